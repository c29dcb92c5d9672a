package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
)

// ErrNotFound signals that the requested exercise does not exist.
var ErrNotFound = errors.New("exercise not found")

// ErrInvalidExercise wraps validation failures on exercise input.
var ErrInvalidExercise = errors.New("invalid exercise")

// Muscle types.
const (
	MusclePrimary   = "primary"
	MuscleSecondary = "secondary"
)

// Muscle is a muscle worked by an exercise.
type Muscle struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Instruction is a single ordered step.
type Instruction struct {
	Text       string `json:"instruction"`
	OrderIndex int    `json:"order_index"`
}

// Image is an ordered illustration of an exercise.
type Image struct {
	URL        string `json:"image_url"`
	OrderIndex int    `json:"order_index"`
}

// Exercise is a catalog entry with its child rows.
type Exercise struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Force        string        `json:"force"`
	Level        string        `json:"level"`
	Mechanic     string        `json:"mechanic"`
	Equipment    string        `json:"equipment"`
	Category     string        `json:"category"`
	Description  string        `json:"description,omitempty"`
	SourceURL    string        `json:"source_url,omitempty"`
	Muscles      []Muscle      `json:"muscles"`
	Instructions []Instruction `json:"instructions"`
	Images       []Image       `json:"images"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ExerciseInput is the writable subset of an Exercise.
type ExerciseInput struct {
	Name      string `json:"name"`
	Force     string `json:"force"`
	Level     string `json:"level"`
	Mechanic  string `json:"mechanic"`
	Equipment string `json:"equipment"`
	Category  string `json:"category"`
}

// Validate checks the required fields.
func (in ExerciseInput) Validate() error {
	var missing []string
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(in.Level) == "" {
		missing = append(missing, "level")
	}
	if strings.TrimSpace(in.Category) == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidExercise, strings.Join(missing, ", "))
	}
	return nil
}

// SearchFilter narrows a search. Empty fields match everything.
type SearchFilter struct {
	Query    string
	Category string
	Level    string
	Limit    int
	Offset   int
}

// DefaultPageSize is used when a listing does not set a limit.
const DefaultPageSize = 100

// Page returns the effective limit and offset.
func (f SearchFilter) Page() (int, int) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Repository persists exercises.
type Repository interface {
	// List returns exercises ordered by id.
	List(ctx context.Context, limit, offset int) ([]Exercise, error)
	// Search matches Query case-insensitively against the name.
	Search(ctx context.Context, filter SearchFilter) ([]Exercise, error)
	// Get loads a single exercise or returns ErrNotFound.
	Get(ctx context.Context, id int64) (Exercise, error)
	Create(ctx context.Context, in ExerciseInput) (Exercise, error)
	Update(ctx context.Context, id int64, in ExerciseInput) (Exercise, error)
	Delete(ctx context.Context, id int64) error
	// UpsertCrawled stores a crawled exercise keyed by its source URL and
	// replaces its child rows.
	UpsertCrawled(ctx context.Context, sourceURL string, detail crawler.ExerciseDetail) (int64, error)
	Ping(ctx context.Context) error
}
