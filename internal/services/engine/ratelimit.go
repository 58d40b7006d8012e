package engine

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// domainLimiters applies a politeness delay per hostname so concurrent jobs
// against one site never hammer it, while jobs against distinct sites run
// unthrottled relative to each other.
type domainLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	delay    time.Duration
}

func newDomainLimiters(delay time.Duration) *domainLimiters {
	return &domainLimiters{
		limiters: make(map[string]*rate.Limiter),
		delay:    delay,
	}
}

// Wait blocks until the hostname's limiter grants a slot.
func (d *domainLimiters) Wait(ctx context.Context, rawURL string) error {
	if d.delay <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil
	}

	d.mu.Lock()
	limiter, ok := d.limiters[parsed.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(d.delay), 1)
		d.limiters[parsed.Host] = limiter
	}
	d.mu.Unlock()

	return limiter.Wait(ctx)
}
