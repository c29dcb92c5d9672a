// Package promote re-renders pages in a headless browser when a plain HTTP
// fetch returns markup that is mostly client-side script.
package promote

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
)

// DefaultBodyThreshold is used when Detector.BodyThreshold is zero.
const DefaultBodyThreshold = 2048

// scriptShareLimit is the percentage of the document occupied by script
// elements at which a small page counts as script-rendered.
const scriptShareLimit = 25

var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// Detector decides whether a response needs a browser render.
type Detector struct {
	BodyThreshold int
}

// NewDetector returns a Detector with the given small-page threshold.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &Detector{BodyThreshold: threshold}
}

// NeedsBrowser reports whether resp looks like an empty app shell.
// Only 200 responses are ever promoted.
func (d *Detector) NeedsBrowser(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return len(resp.Body) < d.BodyThreshold && scriptShare(resp.Body) >= scriptShareLimit
}

// scriptShare returns the percentage of body bytes inside <script> elements.
func scriptShare(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	scripted := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err == nil {
			scripted += len(html)
		}
	})
	if scripted == 0 {
		return 0
	}
	share := scripted * 100 / len(body)
	if share > 100 {
		share = 100
	}
	return share
}

// Fetcher fetches with primary and falls back to browser for pages the
// Detector flags.
type Fetcher struct {
	primary  crawler.Fetcher
	browser  crawler.Fetcher
	detector *Detector
	logger   *zap.Logger
}

// New builds a promoting Fetcher.
func New(primary, browser crawler.Fetcher, detector *Detector, logger *zap.Logger) *Fetcher {
	if detector == nil {
		detector = NewDetector(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{primary: primary, browser: browser, detector: detector, logger: logger}
}

// Fetch implements crawler.Fetcher. A failed browser render falls back to
// the primary response.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := f.primary.Fetch(ctx, req)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("primary fetch: %w", err)
	}
	if f.browser == nil || !f.detector.NeedsBrowser(resp) {
		return resp, nil
	}
	f.logger.Debug("promoting fetch to headless", zap.String("url", req.URL))
	rendered, err := f.browser.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless fetch: %w", err)
		}
		f.logger.Warn("headless fetch failed, keeping plain response",
			zap.String("url", req.URL), zap.Error(err))
		return resp, nil
	}
	if strings.TrimSpace(string(rendered.Body)) == "" {
		return resp, nil
	}
	return rendered, nil
}
