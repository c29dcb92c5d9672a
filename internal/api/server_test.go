package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/config"
	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/dispatcher"
)

func TestServer_Crawl_ReturnsEnvelope(t *testing.T) {
	t.Parallel()

	svc := &fakeService{resp: dispatcher.Response{
		Success: true,
		Result:  crawler.CategoriesResult([]crawler.Category{{Name: "Chest", URL: "/exercises/chest"}}),
	}}
	server := NewServer(svc, nil, testConfig(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/crawl",
		bytes.NewReader([]byte(`{"task":"category","url":"/exercises/chest","use_cache":false}`)))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body dispatcher.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.False(t, body.FromCache)
	require.NotNil(t, body.Result.Count)
	assert.Equal(t, 1, *body.Result.Count)

	got := svc.lastRequest()
	assert.Equal(t, "category", got.Task)
	assert.Equal(t, "/exercises/chest", got.URL)
	require.NotNil(t, got.UseCache)
	assert.False(t, *got.UseCache)
}

func TestServer_Crawl_EmptyBodyUsesDefaults(t *testing.T) {
	t.Parallel()

	svc := &fakeService{resp: dispatcher.Response{Success: true, Result: crawler.CategoriesResult(nil)}}
	server := NewServer(svc, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/crawl", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dispatcher.Request{}, svc.lastRequest())
}

func TestServer_Crawl_InvalidTaskIs400(t *testing.T) {
	t.Parallel()

	svc := &fakeService{resp: dispatcher.Response{Result: dispatcher.InvalidResult()}}
	server := NewServer(svc, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/crawl",
		bytes.NewReader([]byte(`{"task":"exercise"}`))))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid task or missing url")
}

func TestServer_Crawl_FailureStays200(t *testing.T) {
	t.Parallel()

	svc := &fakeService{resp: dispatcher.Response{Result: crawler.Failure("/exercise/x", fmt.Errorf("503"))}}
	server := NewServer(svc, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/crawl",
		bytes.NewReader([]byte(`{"task":"exercise","url":"/exercise/x"}`))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestServer_Crawl_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeService{}, nil, testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/crawl",
		bytes.NewReader([]byte(`{"task":`))))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ClearCache(t *testing.T) {
	t.Parallel()

	svc := &fakeService{clear: dispatcher.ClearResponse{Success: true}}
	server := NewServer(svc, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/clear-cache",
		bytes.NewReader([]byte(`{"key":"main"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, "main", svc.clearedKey())

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/clear-cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", svc.clearedKey())
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	server := NewServer(&fakeService{}, repo, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	repo.pingErr = fmt.Errorf("connection refused")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeService{}, nil, testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(&fakeService{}, nil, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeService{}, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 30},
	}
}

type fakeService struct {
	mu       sync.Mutex
	resp     dispatcher.Response
	clear    dispatcher.ClearResponse
	requests []dispatcher.Request
	cleared  []string
}

func (f *fakeService) Crawl(_ context.Context, req dispatcher.Request) dispatcher.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.resp
}

func (f *fakeService) ClearCache(_ context.Context, key string) dispatcher.ClearResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, key)
	return f.clear
}

func (f *fakeService) lastRequest() dispatcher.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return dispatcher.Request{}
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeService) clearedKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cleared) == 0 {
		return "<none>"
	}
	return f.cleared[len(f.cleared)-1]
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
