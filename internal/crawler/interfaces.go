package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser turns raw markup into structured records. Implementations never fail.
type Parser interface {
	ExtractCategories(markup string) []Category
	ExtractExercises(markup string) []ExerciseSummary
	ExtractExerciseDetails(markup string) ExerciseDetail
}

// Publisher pushes crawl events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
