package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/exercise-crawler/internal/app"
	"github.com/JakeFAU/exercise-crawler/internal/config"
	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/dispatcher"
	memorypublisher "github.com/JakeFAU/exercise-crawler/internal/publisher/memory"
	"github.com/JakeFAU/exercise-crawler/internal/store"
)

const siteBase = "https://exercises.example.test"

const mainHTML = `<html><body>
<div class="category-list">
  <a href="/exercises/chest">Chest</a>
  <a href="/exercises/back">Back</a>
</div></body></html>`

const chestHTML = `<html><body>
<div class="exercise-item"><img src="/img/push.png"><a href="/exercise/push-up">Push Up</a></div>
</body></html>`

const pushUpHTML = `<html><body>
<h1>Push Up</h1>
<div class="exercise-image"><img src="/img/push-1.png"></div>
<p class="description">A bodyweight press.</p>
<span class="muscle-worked">Chest</span>
</body></html>`

type siteFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls int
}

func newSiteFetcher() *siteFetcher {
	return &siteFetcher{pages: map[string]string{
		siteBase:                       mainHTML,
		siteBase + "/exercises/chest":  chestHTML,
		siteBase + "/exercise/push-up": pushUpHTML,
	}}
}

func (f *siteFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	page, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(page)}, nil
}

func (f *siteFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// savingRepo records crawled upserts. Methods it does not override panic.
type savingRepo struct {
	store.Repository

	mu    sync.Mutex
	saved map[string]crawler.ExerciseDetail
}

func (r *savingRepo) UpsertCrawled(_ context.Context, sourceURL string, detail crawler.ExerciseDetail) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = map[string]crawler.ExerciseDetail{}
	}
	r.saved[sourceURL] = detail
	return int64(len(r.saved)), nil
}

func (r *savingRepo) Ping(context.Context) error { return nil }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.BaseURL = siteBase
	cfg.Cache.Backend = config.CacheMemory
	cfg.Cache.TTLSeconds = 60
	cfg.PubSub.TopicName = "crawl-events"
	return cfg
}

func newTestApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithRegisterer(prometheus.NewRegistry())}, opts...)
	a, err := app.New(context.Background(), testConfig(t), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

// TestServiceCachesSuccessfulCrawls ensures a second identical crawl is
// served from cache without touching the fetcher.
func TestServiceCachesSuccessfulCrawls(t *testing.T) {
	fetcher := newSiteFetcher()
	a := newTestApp(t, app.WithFetcher(fetcher))

	first := a.Service().Crawl(context.Background(), dispatcher.Request{Task: "main"})
	require.True(t, first.Success)
	assert.False(t, first.FromCache)
	require.NotNil(t, first.Result.Count)
	assert.Equal(t, 2, *first.Result.Count)

	second := a.Service().Crawl(context.Background(), dispatcher.Request{Task: "main"})
	assert.True(t, second.Success)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, fetcher.count())

	noCache := false
	third := a.Service().Crawl(context.Background(), dispatcher.Request{Task: "main", UseCache: &noCache})
	assert.False(t, third.FromCache)
	assert.Equal(t, 2, fetcher.count())
}

// TestServiceClearCacheForcesRefetch checks that clearing everything drops
// previously cached results.
func TestServiceClearCacheForcesRefetch(t *testing.T) {
	fetcher := newSiteFetcher()
	a := newTestApp(t, app.WithFetcher(fetcher))

	a.Service().Crawl(context.Background(), dispatcher.Request{Task: "main"})
	assert.True(t, a.Service().ClearCache(context.Background(), "").Success)

	res := a.Service().Crawl(context.Background(), dispatcher.Request{Task: "main"})
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, fetcher.count())
}

// TestExerciseCrawlPersistsAndPublishes wires the repository and publisher
// middleware through a full exercise crawl.
func TestExerciseCrawlPersistsAndPublishes(t *testing.T) {
	repo := &savingRepo{}
	pub := memorypublisher.New()
	a := newTestApp(t,
		app.WithFetcher(newSiteFetcher()),
		app.WithRepository(repo),
		app.WithPublisher(pub),
	)

	res := a.Service().Crawl(context.Background(), dispatcher.Request{Task: "exercise", URL: "/exercise/push-up"})
	require.True(t, res.Success, res.Result.Error)
	require.NotNil(t, res.Result.Payload)
	require.NotNil(t, res.Result.Payload.Details)
	assert.Equal(t, "Push Up", res.Result.Payload.Details.Name)

	detail, ok := repo.saved[siteBase+"/exercise/push-up"]
	require.True(t, ok)
	assert.Equal(t, []string{"Chest"}, detail.MusclesWorked)

	msgs := pub.Topic("crawl-events")
	require.Len(t, msgs, 1)
}

// TestInvalidTaskNeverReachesFetcher ensures validation runs before any
// cache or fetch activity.
func TestInvalidTaskNeverReachesFetcher(t *testing.T) {
	fetcher := newSiteFetcher()
	a := newTestApp(t, app.WithFetcher(fetcher))

	res := a.Service().Crawl(context.Background(), dispatcher.Request{Task: "category"})
	assert.False(t, res.Success)
	assert.Equal(t, crawler.ErrInvalidTask.Error(), res.Result.Error)
	assert.Zero(t, fetcher.count())
}

// TestHandlerServesCrawlAPI drives the assembled HTTP handler end to end.
func TestHandlerServesCrawlAPI(t *testing.T) {
	a := newTestApp(t, app.WithFetcher(newSiteFetcher()))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/crawl", "application/json", strings.NewReader(`{"task":"all"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body dispatcher.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.NotNil(t, body.Result.Payload)
	assert.Len(t, body.Result.Payload.CategoryResults, 2)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

// TestNewRejectsUnknownFetcherMode ensures a bad fetcher mode fails fast.
func TestNewRejectsUnknownFetcherMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetcher.Mode = "telnet"
	_, err := app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fetcher mode")
}
