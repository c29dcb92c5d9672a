package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/store"
)

func TestExerciseRoutesUnavailableWithoutStore(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeService{}, nil, testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/exercises", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExerciseCRUD(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	server := NewServer(&fakeService{}, repo, testConfig(), zap.NewNop())
	h := server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/exercises",
		bytes.NewReader([]byte(`{"name":"Push-up","level":"beginner","category":"chest"}`))))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created store.Exercise
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/exercises",
		bytes.NewReader([]byte(`{"name":"Nameless"}`))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing level, category")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/exercises/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Push-up"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/exercises/1",
		bytes.NewReader([]byte(`{"name":"Wide push-up","level":"intermediate","category":"chest"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"level":"intermediate"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/exercises", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Exercise
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/exercises/1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/exercises/1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExerciseSearchPassesFilters(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	server := NewServer(&fakeService{}, repo, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/exercises/search?q=squat&category=legs&level=beginner&limit=1000&offset=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, store.SearchFilter{
		Query: "squat", Category: "legs", Level: "beginner", Limit: maxExerciseLimit, Offset: 5,
	}, repo.lastFilter)
}

func TestExerciseBadParameters(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeService{}, newFakeRepo(), testConfig(), zap.NewNop())
	tests := []struct {
		name   string
		method string
		target string
	}{
		{name: "bad id", method: http.MethodGet, target: "/api/exercises/abc"},
		{name: "zero id", method: http.MethodDelete, target: "/api/exercises/0"},
		{name: "bad limit", method: http.MethodGet, target: "/api/exercises?limit=-1"},
		{name: "bad offset", method: http.MethodGet, target: "/api/exercises/search?offset=x"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestExerciseStoreFailureIs500(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.listErr = errors.New("db down")
	server := NewServer(&fakeService{}, repo, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/exercises", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeRepo struct {
	mu         sync.Mutex
	nextID     int64
	items      map[int64]store.Exercise
	lastFilter store.SearchFilter
	listErr    error
	pingErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: map[int64]store.Exercise{}}
}

func (f *fakeRepo) List(_ context.Context, _, _ int) ([]store.Exercise, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]store.Exercise, 0, len(f.items))
	for _, ex := range f.items {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) Search(_ context.Context, filter store.SearchFilter) ([]store.Exercise, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	out := []store.Exercise{}
	for _, ex := range f.items {
		if strings.Contains(strings.ToLower(ex.Name), strings.ToLower(filter.Query)) {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (f *fakeRepo) Get(_ context.Context, id int64) (store.Exercise, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ex, ok := f.items[id]
	if !ok {
		return store.Exercise{}, store.ErrNotFound
	}
	return ex, nil
}

func (f *fakeRepo) Create(_ context.Context, in store.ExerciseInput) (store.Exercise, error) {
	if err := in.Validate(); err != nil {
		return store.Exercise{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ex := store.Exercise{ID: f.nextID, Name: in.Name, Level: in.Level, Category: in.Category}
	f.items[ex.ID] = ex
	return ex, nil
}

func (f *fakeRepo) Update(_ context.Context, id int64, in store.ExerciseInput) (store.Exercise, error) {
	if err := in.Validate(); err != nil {
		return store.Exercise{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ex, ok := f.items[id]
	if !ok {
		return store.Exercise{}, store.ErrNotFound
	}
	ex.Name, ex.Level, ex.Category = in.Name, in.Level, in.Category
	f.items[id] = ex
	return ex, nil
}

func (f *fakeRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeRepo) UpsertCrawled(_ context.Context, _ string, _ crawler.ExerciseDetail) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}
