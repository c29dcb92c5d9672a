// Package store defines the exercise catalog types and the repository
// contract used by the API and the crawl persistence middleware.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
