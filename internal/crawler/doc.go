// Package crawler holds the exercise crawl orchestrator and the types shared
// by the parser, cache, fetchers and dispatcher. The orchestrator walks the
// site in three tiers (main page, category pages, exercise pages) and turns
// every fetch failure into a failed CrawlResult at the tier that issued it.
package crawler
