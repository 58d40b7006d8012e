package models

import "time"

// Document is the result of scraping a single URL. The admission engine
// treats the content fields as an opaque payload keyed by job id; the engine
// fills whatever it could extract.
type Document struct {
	URL         string        `json:"url"`
	ResolvedURL string        `json:"resolved_url,omitempty"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Language    string        `json:"language,omitempty"`
	Markdown    string        `json:"markdown,omitempty"`
	HTML        string        `json:"html,omitempty"`
	Links       []string      `json:"links,omitempty"`
	StatusCode  int           `json:"status_code"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	FetchedAt   time.Time     `json:"fetched_at"`
	Duration    time.Duration `json:"duration_ms"`
}

// MapResult is one entry of a map pipeline response. Entries deduplicate by
// URL; when duplicates collide the one carrying a title wins.
type MapResult struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}
