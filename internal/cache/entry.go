package cache

import (
	"time"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
)

// Entry is the persisted form of one cached crawl result.
type Entry struct {
	Key      string              `json:"key"`
	StoredAt float64             `json:"stored_at"`
	Data     crawler.CrawlResult `json:"data"`
}

// EpochSeconds converts t to fractional Unix seconds.
func EpochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// Expired reports whether the entry is older than ttl at now. An entry whose
// age equals ttl is still fresh.
func (e Entry) Expired(now time.Time, ttl time.Duration) bool {
	return EpochSeconds(now)-e.StoredAt > ttl.Seconds()
}
