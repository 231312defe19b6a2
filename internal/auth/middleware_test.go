package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", a.Middleware())
	NewHandler().RegisterRoutes(api)
	api.POST("/verify", RequireRole(RoleVerifier), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func do(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_AcceptsValidToken(t *testing.T) {
	a := NewAuthenticator("secret", "identity")
	account := uuid.New()
	token, err := a.IssueToken(account, []string{RoleProducer}, time.Hour)
	require.NoError(t, err)

	rec := do(newRouter(a), http.MethodGet, "/api/v1/auth/me", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		AccountID uuid.UUID `json:"account_id"`
		Roles     []string  `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, account, body.AccountID)
	assert.Equal(t, []string{RoleProducer}, body.Roles)
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	a := NewAuthenticator("secret", "identity")
	r := newRouter(a)

	expired, err := a.IssueToken(uuid.New(), nil, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewAuthenticator("other", "identity").IssueToken(uuid.New(), nil, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewAuthenticator("secret", "elsewhere").IssueToken(uuid.New(), nil, time.Hour)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "identity"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":      "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"bad subject":  badSubject,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(r, http.MethodGet, "/api/v1/auth/me", token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
		})
	}
}

func TestRequireRole(t *testing.T) {
	a := NewAuthenticator("secret", "identity")
	r := newRouter(a)

	producer, _ := a.IssueToken(uuid.New(), []string{RoleProducer}, time.Hour)
	verifier, _ := a.IssueToken(uuid.New(), []string{RoleVerifier}, time.Hour)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/v1/verify", producer).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/verify", verifier).Code)
}

func TestMiddleware_WebsocketQueryToken(t *testing.T) {
	a := NewAuthenticator("secret", "identity")
	token, err := a.IssueToken(uuid.New(), nil, time.Hour)
	require.NoError(t, err)
	r := newRouter(a)

	upgrade := func(query string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me"+query, nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, upgrade("?access_token="+token))
	assert.Equal(t, http.StatusUnauthorized, upgrade(""))

	// plain requests must still use the header
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/auth/me?access_token="+token, "").Code)
}
