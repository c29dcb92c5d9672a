package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/store"
)

const (
	defaultExerciseLimit = 100
	maxExerciseLimit     = 500
)

// listExercises handles GET /api/exercises?limit=&offset=.
func (s *Server) listExercises(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultExerciseLimit, maxExerciseLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	exercises, err := s.repo.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list exercises failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list exercises")
		return
	}
	writeJSON(w, http.StatusOK, exercises)
}

// searchExercises handles GET /api/exercises/search?q=&category=&level=.
func (s *Server) searchExercises(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultExerciseLimit, maxExerciseLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	exercises, err := s.repo.Search(r.Context(), store.SearchFilter{
		Query:    strings.TrimSpace(q.Get("q")),
		Category: q.Get("category"),
		Level:    q.Get("level"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error("search exercises failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search exercises")
		return
	}
	writeJSON(w, http.StatusOK, exercises)
}

func (s *Server) getExercise(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	id, ok := exerciseID(w, r)
	if !ok {
		return
	}
	ex, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) createExercise(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	var in store.ExerciseInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ex, err := s.repo.Create(r.Context(), in)
	if err != nil {
		s.writeStoreError(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

func (s *Server) updateExercise(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	id, ok := exerciseID(w, r)
	if !ok {
		return
	}
	var in store.ExerciseInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ex, err := s.repo.Update(r.Context(), id, in)
	if err != nil {
		s.writeStoreError(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) deleteExercise(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	id, ok := exerciseID(w, r)
	if !ok {
		return
	}
	if err := s.repo.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireRepo(w http.ResponseWriter) bool {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "exercise store unavailable")
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "exercise not found")
	case errors.Is(err, store.ErrInvalidExercise):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" exercise failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+op+" exercise")
	}
}

func exerciseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid exercise id")
		return 0, false
	}
	return id, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
