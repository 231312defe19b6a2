package submissions

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/auth"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/database/dbtest"
)

type handlerFixture struct {
	router *gin.Engine
	authn  *auth.Authenticator
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	gin.SetMode(gin.TestMode)
	db := dbtest.New(t, Migrate)
	service := NewService(NewRepository(db), calculation.DefaultPolicy(), nil, zap.NewNop())

	authn := auth.NewAuthenticator("test-secret", "test")
	router := gin.New()
	api := router.Group("/api/v1", authn.Middleware())
	NewHandler(service, zap.NewNop()).RegisterRoutes(api)
	return &handlerFixture{router: router, authn: authn}
}

func (f *handlerFixture) request(t *testing.T, method, path string, account uuid.UUID, roles []string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	token, err := f.authn.IssueToken(account, roles, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndGetSubmission(t *testing.T) {
	f := newHandlerFixture(t)
	producer := uuid.New()

	rec := f.request(t, http.MethodPost, "/api/v1/submissions", producer, []string{auth.RoleProducer}, map[string]interface{}{
		"project_id":   uuid.New(),
		"kwh_reported": "1247.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, producer, created.ProducerID)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, "543.1615", created.CO2KgComputed.String())

	rec = f.request(t, http.MethodGet, "/api/v1/submissions/"+created.ID.String(), uuid.New(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestHandler_CreateSubmission_Errors(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/submissions", uuid.New(), []string{auth.RoleVerifier}, map[string]interface{}{
		"project_id": uuid.New(), "kwh_reported": "10",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/v1/submissions", uuid.New(), []string{auth.RoleProducer}, map[string]interface{}{
		"project_id": uuid.New(), "kwh_reported": "0",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	rec = f.request(t, http.MethodGet, "/api/v1/submissions/"+uuid.NewString(), uuid.New(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/submissions/not-a-uuid", uuid.New(), nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListSubmissions_Paginates(t *testing.T) {
	f := newHandlerFixture(t)
	producer := uuid.New()

	for i := 0; i < 3; i++ {
		rec := f.request(t, http.MethodPost, "/api/v1/submissions", producer, []string{auth.RoleProducer}, map[string]interface{}{
			"project_id": uuid.New(), "kwh_reported": 100 + i,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.request(t, http.MethodGet, "/api/v1/submissions?limit=2&status=pending&producer_id="+producer.String(), producer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.NotNil(t, page.NextCursor)

	rec = f.request(t, http.MethodGet, "/api/v1/submissions?limit=2&after="+page.NextCursor.String(), producer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.Len(t, next.Items, 1)
	assert.Nil(t, next.NextCursor)

	rec = f.request(t, http.MethodGet, "/api/v1/submissions?limit=abc", producer, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
