package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func (s *fakeObjectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		s.objects[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := s.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code></Error>`))
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	case http.MethodDelete:
		delete(s.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (S3Client, *fakeObjectStore) {
	store := &fakeObjectStore{objects: make(map[string]string)}
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)

	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("test", "test", ""),
	}
	return NewS3ClientFromConfig(cfg, srv.URL), store
}

func TestS3Client_UploadDownloadDelete(t *testing.T) {
	client, store := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Upload(ctx, "exports", "trades/2026-10-16.csv", strings.NewReader("listing_id,credit_tokens\n")))
	assert.Equal(t, "listing_id,credit_tokens\n", store.objects["/exports/trades/2026-10-16.csv"])

	body, err := client.Download(ctx, "exports", "trades/2026-10-16.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "listing_id,credit_tokens\n", string(data))

	require.NoError(t, client.Delete(ctx, "exports", "trades/2026-10-16.csv"))
	assert.Empty(t, store.objects)
}

func TestS3Client_PresignedURL(t *testing.T) {
	client, _ := newTestClient(t)

	url, err := client.GetPresignedURL(context.Background(), "exports", "mints.xlsx", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "/exports/mints.xlsx")
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=900")
}
