package interfaces

import (
	"context"
	"time"

	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// EngineRequest describes one fetch against the scraping engine.
type EngineRequest struct {
	URL      string
	Timeout  time.Duration
	RenderJS bool
	Headers  map[string]string
}

// Fetcher retrieves raw bodies (robots.txt, sitemaps) through the engine so
// TLS and stealth handling stay in one place. Non-2xx responses return the
// status with a nil error; transport failures return an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, status int, err error)
}

// ScrapeEngine is the narrow contract the lifecycle coordinator dispatches
// to. Implementations classify transport failures into the wire-stable
// transport errors (DNS, SSL, timeout); HTTP-level failures come back as a
// Document with Success=false.
type ScrapeEngine interface {
	Fetcher
	Scrape(ctx context.Context, req EngineRequest) (*models.Document, error)
	ResolveRedirects(ctx context.Context, url string) (string, error)
}

// SearchProvider runs bounded paged queries against an external search
// service.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]models.MapResult, error)
}

// IndexEntry is one URL known to the domain index.
type IndexEntry struct {
	URL         string    `json:"url" badgerhold:"key"`
	Domain      string    `json:"domain" badgerholdIndex:"Domain"`
	Path        string    `json:"path"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// DomainIndex answers map queries at two split levels: per-hostname and
// per-URL-path-prefix, both scoped to a freshness window.
type DomainIndex interface {
	QueryHost(ctx context.Context, host string, since time.Time, limit int) ([]models.MapResult, error)
	QueryPathPrefix(ctx context.Context, host, prefix string, since time.Time, limit int) ([]models.MapResult, error)
	Record(ctx context.Context, entry IndexEntry) error
}

// TenantSource resolves tenant views. Implementations cache reads for at
// least the lifetime of one request.
type TenantSource interface {
	Lookup(ctx context.Context, tenantID string) (*models.TenantView, error)
}
