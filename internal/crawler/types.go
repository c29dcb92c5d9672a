package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TaskKind identifies one of the four crawl entry operations.
type TaskKind string

// Task kinds accepted by the dispatcher.
const (
	TaskMainPage      TaskKind = "main"
	TaskCategory      TaskKind = "category"
	TaskExercise      TaskKind = "exercise"
	TaskAllCategories TaskKind = "all"
)

// ErrInvalidTask is returned for unknown task names or tasks missing a required URL.
var ErrInvalidTask = errors.New("invalid task or missing url")

// RequiresURL reports whether the kind needs a target URL.
func (k TaskKind) RequiresURL() bool {
	return k == TaskCategory || k == TaskExercise
}

// CrawlTask is an immutable request descriptor resolved by the orchestrator.
type CrawlTask struct {
	Kind        TaskKind
	TargetURL   string
	BypassCache bool
}

// NewTask validates a task name and optional URL.
func NewTask(name, targetURL string, bypassCache bool) (CrawlTask, error) {
	kind := TaskKind(strings.TrimSpace(name))
	switch kind {
	case TaskMainPage, TaskCategory, TaskExercise, TaskAllCategories:
	default:
		return CrawlTask{}, fmt.Errorf("%w: unknown task %q", ErrInvalidTask, name)
	}
	targetURL = strings.TrimSpace(targetURL)
	if kind.RequiresURL() && targetURL == "" {
		return CrawlTask{}, fmt.Errorf("%w: task %q requires a url", ErrInvalidTask, name)
	}
	return CrawlTask{Kind: kind, TargetURL: targetURL, BypassCache: bypassCache}, nil
}

// Options carries per-invocation knobs for orchestrator operations.
type Options struct {
	BypassCache bool
}

// Options returns the orchestrator options derived from the task.
func (t CrawlTask) Options() Options {
	return Options{BypassCache: t.BypassCache}
}

// Category is a link to an exercise listing page.
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ExerciseSummary is one exercise as listed on a category page.
type ExerciseSummary struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ImageURL    string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
}

// ExerciseDetail holds everything extracted from an exercise page.
// Every field is optional; extraction gaps are normal.
type ExerciseDetail struct {
	Name          string   `json:"name,omitempty"`
	Images        []string `json:"images"`
	Description   string   `json:"description,omitempty"`
	Instructions  string   `json:"instructions,omitempty"`
	MusclesWorked []string `json:"muscles_worked"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Equipment     string   `json:"equipment,omitempty"`
}

// PayloadKind names which field of a Payload is populated.
type PayloadKind string

// Payload kinds.
const (
	PayloadCategories PayloadKind = "categories"
	PayloadExercises  PayloadKind = "exercises"
	PayloadDetails    PayloadKind = "details"
	PayloadCatalog    PayloadKind = "catalog"
)

// Payload is the one-of body of a successful CrawlResult. The lists that
// belong to Kind are always encoded, as [] when empty; the others are omitted.
type Payload struct {
	Kind            PayloadKind       `json:"kind"`
	Categories      []Category        `json:"categories"`
	Exercises       []ExerciseSummary `json:"exercises"`
	Details         *ExerciseDetail   `json:"details"`
	CategoryResults []CrawlResult     `json:"category_results"`
}

type payloadJSON struct {
	Kind            PayloadKind        `json:"kind"`
	Categories      *[]Category        `json:"categories,omitempty"`
	Exercises       *[]ExerciseSummary `json:"exercises,omitempty"`
	Details         *ExerciseDetail    `json:"details,omitempty"`
	CategoryResults *[]CrawlResult     `json:"category_results,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := payloadJSON{Kind: p.Kind, Details: p.Details}
	switch p.Kind {
	case PayloadCategories:
		out.Categories = listOf(p.Categories)
	case PayloadExercises:
		out.Exercises = listOf(p.Exercises)
	case PayloadCatalog:
		out.Categories = listOf(p.Categories)
		out.CategoryResults = listOf(p.CategoryResults)
	case PayloadDetails:
	default:
		if p.Categories != nil {
			out.Categories = &p.Categories
		}
		if p.Exercises != nil {
			out.Exercises = &p.Exercises
		}
		if p.CategoryResults != nil {
			out.CategoryResults = &p.CategoryResults
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

func listOf[T any](items []T) *[]T {
	items = orEmpty(items)
	return &items
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// CrawlResult is the envelope returned to callers and stored in the cache.
type CrawlResult struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	URL     string   `json:"url,omitempty"`
	Payload *Payload `json:"payload,omitempty"`
	Count   *int     `json:"count,omitempty"`
}

// Failure builds a failed result for the given target.
func Failure(targetURL string, err error) CrawlResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return CrawlResult{Success: false, Error: msg, URL: targetURL}
}

// CategoriesResult wraps a main-page extraction.
func CategoriesResult(categories []Category) CrawlResult {
	count := len(categories)
	return CrawlResult{
		Success: true,
		Payload: &Payload{Kind: PayloadCategories, Categories: orEmpty(categories)},
		Count:   &count,
	}
}

// ExercisesResult wraps a category-page extraction.
func ExercisesResult(targetURL string, exercises []ExerciseSummary) CrawlResult {
	count := len(exercises)
	return CrawlResult{
		Success: true,
		URL:     targetURL,
		Payload: &Payload{Kind: PayloadExercises, Exercises: orEmpty(exercises)},
		Count:   &count,
	}
}

// DetailsResult wraps an exercise-page extraction.
func DetailsResult(targetURL string, details ExerciseDetail) CrawlResult {
	details.Images = orEmpty(details.Images)
	details.MusclesWorked = orEmpty(details.MusclesWorked)
	return CrawlResult{
		Success: true,
		URL:     targetURL,
		Payload: &Payload{Kind: PayloadDetails, Details: &details},
	}
}

// CatalogResult wraps the aggregate of an all-categories crawl.
func CatalogResult(categories []Category, results []CrawlResult) CrawlResult {
	return CrawlResult{
		Success: true,
		Payload: &Payload{
			Kind:            PayloadCatalog,
			Categories:      orEmpty(categories),
			CategoryResults: orEmpty(results),
		},
	}
}

// Validate checks the success/payload/error invariant.
func (r CrawlResult) Validate() error {
	if r.Success {
		if r.Payload == nil {
			return errors.New("successful result without payload")
		}
		return nil
	}
	if r.Payload != nil {
		return errors.New("failed result carries a payload")
	}
	if r.Error == "" {
		return errors.New("failed result without error message")
	}
	return nil
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	BypassCache bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// HTML returns the fetched body as markup.
func (r FetchResponse) HTML() string {
	return string(r.Body)
}
