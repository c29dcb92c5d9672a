package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/exercise-crawler/internal/config"
	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/dispatcher"
)

type mockApp struct {
	mock.Mock
}

func (m *mockApp) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockApp) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockApp) Crawl(ctx context.Context, req dispatcher.Request) dispatcher.Response {
	return m.Called(ctx, req).Get(0).(dispatcher.Response)
}

func (m *mockApp) ClearCache(ctx context.Context, key string) dispatcher.ClearResponse {
	return m.Called(ctx, key).Get(0).(dispatcher.ClearResponse)
}

func withMockApp(t *testing.T, m *mockApp) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, config.Config) (App, error) { return m, nil }
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// TestCrawlCommandPrintsEnvelope ensures flags map onto the crawl request and
// the response is written as JSON.
func TestCrawlCommandPrintsEnvelope(t *testing.T) {
	m := &mockApp{}
	withMockApp(t, m)

	count := 3
	want := dispatcher.Response{
		Success: true,
		Result:  crawler.CrawlResult{Success: true, URL: "/exercises/chest", Count: &count},
	}
	m.On("Crawl", mock.Anything, mock.MatchedBy(func(req dispatcher.Request) bool {
		return req.Task == "category" && req.URL == "/exercises/chest" &&
			req.UseCache != nil && !*req.UseCache
	})).Return(want)
	m.On("Close", mock.Anything).Return(nil)

	out, err := execute(t, "crawl", "--task", "category", "--url", "/exercises/chest", "--no-cache")
	require.NoError(t, err)

	var got dispatcher.Response
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Success)
	require.NotNil(t, got.Result.Count)
	assert.Equal(t, 3, *got.Result.Count)
	m.AssertExpectations(t)
}

// TestCrawlCommandFailureReturnsError checks that an unsuccessful crawl
// exits with an error after printing the envelope.
func TestCrawlCommandFailureReturnsError(t *testing.T) {
	m := &mockApp{}
	withMockApp(t, m)

	m.On("Crawl", mock.Anything, mock.Anything).Return(dispatcher.Response{
		Result: crawler.CrawlResult{Error: crawler.ErrInvalidTask.Error()},
	})
	m.On("Close", mock.Anything).Return(nil).Once()

	out, err := execute(t, "crawl", "--task", "exercise")
	require.ErrorIs(t, err, errCrawlFailed)
	assert.Contains(t, out, crawler.ErrInvalidTask.Error())
	m.AssertExpectations(t)
}

// TestClearCacheCommandFailureClosesApp ensures handles are released when
// the command fails.
func TestClearCacheCommandFailureClosesApp(t *testing.T) {
	m := &mockApp{}
	withMockApp(t, m)

	m.On("ClearCache", mock.Anything, "").Return(dispatcher.ClearResponse{Success: false})
	m.On("Close", mock.Anything).Return(errors.New("redis gone")).Once()

	_, err := execute(t, "clear-cache")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear cache failed")
	assert.Contains(t, err.Error(), "redis gone")
	m.AssertExpectations(t)
}

// TestClearCacheCommand ensures the key flag is forwarded.
func TestClearCacheCommand(t *testing.T) {
	m := &mockApp{}
	withMockApp(t, m)

	m.On("ClearCache", mock.Anything, "main").Return(dispatcher.ClearResponse{Success: true})
	m.On("Close", mock.Anything).Return(nil)

	out, err := execute(t, "clear-cache", "--key", "main")
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)
	m.AssertExpectations(t)
}

// TestServeCommandRunsApp ensures serve delegates to Run.
func TestServeCommandRunsApp(t *testing.T) {
	m := &mockApp{}
	withMockApp(t, m)

	m.On("Run", mock.Anything).Return(nil)
	m.On("Close", mock.Anything).Return(nil)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	m.AssertExpectations(t)
}

// TestResolveAppMissing checks the error when no app was injected.
func TestResolveAppMissing(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
