package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Exercises.Virtuagym.com/path", "exercises.virtuagym.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, crawlerTasksTotal)
	require.NotNil(t, crawlerCacheLookupsTotal)
	require.NotNil(t, crawlerParserFallbackTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveHelpersIncrementCounters(t *testing.T) {
	Init()

	before := testutil.ToFloat64(crawlerCacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup("hit")
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerCacheLookupsTotal.WithLabelValues("hit")), 0.001)

	before = testutil.ToFloat64(crawlerParserFallbackTotal.WithLabelValues("categories"))
	ObserveParserFallback("categories")
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerParserFallbackTotal.WithLabelValues("categories")), 0.001)

	before = testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("example.org", "success"))
	beforeBytes := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("example.org"))
	ObserveFetch("https://example.org/exercises", "success", 512)
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("example.org", "success")), 0.001)
	assert.InDelta(t, beforeBytes+512, testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("example.org")), 0.001)

	before = testutil.ToFloat64(crawlerTasksTotal.WithLabelValues("main", "success"))
	ObserveTask("main", "success", 150*time.Millisecond)
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerTasksTotal.WithLabelValues("main", "success")), 0.001)

	ObserveCacheWrite("success")
	ObserveRateLimitDelay("example.org", time.Second)
	assert.Positive(t, testutil.CollectAndCount(crawlerRateLimitDelaysSeconds))
}

func TestHandlerServesRegistry(t *testing.T) {
	ObserveCacheWrite("failure")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crawler_cache_writes_total")
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
