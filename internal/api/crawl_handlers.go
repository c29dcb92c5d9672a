package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/dispatcher"
)

type clearCacheRequest struct {
	Key string `json:"key"`
}

// crawl handles POST /api/crawl. Crawl failures are reported inside the
// 200 envelope; only malformed input earns a 400.
func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req dispatcher.Request
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp := s.service.Crawl(r.Context(), req)
	if !resp.Result.Success && resp.Result.Error == crawler.ErrInvalidTask.Error() {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	if !resp.Success {
		s.logger.Warn("crawl returned failure",
			zap.String("task", req.Task),
			zap.String("url", req.URL),
			zap.String("error", resp.Result.Error),
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

// clearCache handles POST /api/clear-cache. A missing key clears everything.
func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	var req clearCacheRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, s.service.ClearCache(r.Context(), req.Key))
}

// decodeOptionalJSON decodes the body into dst, treating an empty body as {}.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
