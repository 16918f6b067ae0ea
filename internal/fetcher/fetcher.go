// Package fetcher defines the HTTP fetch contract shared by metadata
// scrapers and webcam frame downloads.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// Request captures everything needed to fetch a URL.
type Request struct {
	URL string
	// Timeout bounds the whole fetch. Zero uses the fetcher default.
	Timeout time.Duration
	Headers http.Header
}

// Response is the result returned by a Fetcher implementation.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher fetches a URL and returns the body plus metadata. Transport
// failures, timeouts and non-2xx statuses are all returned as errors.
type Fetcher interface {
	Fetch(ctx context.Context, request Request) (Response, error)
}
