package searchprov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

const (
	cacheKeyPrefix  = "fireEngineMap:"
	defaultCacheTTL = 48 * time.Hour
)

// Options configures the search client from the [search] config section.
type Options struct {
	BaseURL       string
	APIKey        string
	PageSize      int
	MaxPages      int
	RatePerSecond float64
	CacheTTL      time.Duration
}

// Client runs bounded paged queries against the external search service.
// Whole-query results are cached in the coordination store for 48 hours; the
// limiter throttles outbound pages across concurrent map requests.
type Client struct {
	httpClient *http.Client
	store      interfaces.CoordStore
	logger     arbor.ILogger
	limiter    *rate.Limiter
	opts       Options
}

func NewClient(store interfaces.CoordStore, opts Options, logger arbor.ILogger) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		opts:       opts,
	}
}

type searchResponse struct {
	Results []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"results"`
}

// Search pages through results for the query until limit hits, pages run
// out, or a page comes back short. Cache hits skip the provider entirely.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.MapResult, error) {
	if c.opts.BaseURL == "" {
		return nil, nil
	}

	cacheKey := cacheKeyPrefix + query
	if raw, err := c.store.Get(ctx, cacheKey); err == nil {
		var cached []models.MapResult
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return trim(cached, limit), nil
		}
	} else if !errors.Is(err, interfaces.ErrKeyNotFound) {
		c.logger.Debug().Err(err).Msg("Search cache read failed")
	}

	var results []models.MapResult
	for page := 0; page < c.opts.MaxPages && len(results) < limit; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return results, err
		}
		pageResults, err := c.fetchPage(ctx, query, page)
		if err != nil {
			if len(results) > 0 {
				c.logger.Warn().Err(err).Int("page", page).Msg("Search page failed, returning partial results")
				break
			}
			return nil, err
		}
		results = append(results, pageResults...)
		if len(pageResults) < c.opts.PageSize {
			break
		}
	}

	if payload, err := json.Marshal(results); err == nil {
		if err := c.store.Set(ctx, cacheKey, string(payload), c.opts.CacheTTL); err != nil {
			c.logger.Debug().Err(err).Msg("Search cache write failed")
		}
	}
	return trim(results, limit), nil
}

func (c *Client) fetchPage(ctx context.Context, query string, page int) ([]models.MapResult, error) {
	endpoint := c.opts.BaseURL + "/search?" + url.Values{
		"q":    {query},
		"page": {strconv.Itoa(page)},
		"num":  {strconv.Itoa(c.opts.PageSize)},
	}.Encode()

	var out []models.MapResult
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			if c.opts.APIKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("search provider returned status %d", resp.StatusCode)
			}
			var decoded searchResponse
			if err := json.Unmarshal(body, &decoded); err != nil {
				return fmt.Errorf("failed to decode search response: %w", err)
			}
			out = out[:0]
			for _, r := range decoded.Results {
				if r.URL == "" {
					continue
				}
				out = append(out, models.MapResult{URL: r.URL, Title: r.Title, Description: r.Description})
			}
			return nil
		},
		retry.Attempts(3),
		retry.Context(ctx),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	return out, err
}

func trim(results []models.MapResult, limit int) []models.MapResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
