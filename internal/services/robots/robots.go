package robots

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
)

// Policy evaluates robots.txt decisions for one site. An unavailable or
// unparseable robots file yields an allow-all policy so crawls are never
// blocked by a site's misconfiguration.
type Policy struct {
	group     *robotstxt.RobotsData
	agent     string
	altAgent  string
	ignore    bool
	raw       string
	originURL *url.URL
}

// Service fetches and parses robots.txt through the scraping engine rather
// than direct HTTP, keeping TLS and stealth handling in one place.
type Service struct {
	fetcher   interfaces.Fetcher
	logger    arbor.ILogger
	userAgent string
}

func NewService(fetcher interfaces.Fetcher, userAgent string, logger arbor.ILogger) *Service {
	return &Service{fetcher: fetcher, logger: logger, userAgent: userAgent}
}

// ForSite fetches and parses the robots.txt governing the given URL. The
// ignore flag short-circuits every decision to allow.
func (s *Service) ForSite(ctx context.Context, siteURL string, ignore bool) (*Policy, error) {
	parsed, err := url.Parse(siteURL)
	if err != nil || parsed.Host == "" {
		return s.allowAll(nil, ignore), nil
	}

	policy := &Policy{
		agent:     s.userAgent,
		altAgent:  alternateCasing(s.userAgent),
		ignore:    ignore,
		originURL: parsed,
	}
	if ignore {
		return policy, nil
	}

	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	body, status, err := s.fetcher.Fetch(fetchCtx, robotsURL)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", robotsURL).Msg("Robots fetch failed, allowing all")
		return s.allowAll(parsed, ignore), nil
	}

	group, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", robotsURL).Msg("Robots parse failed, allowing all")
		return s.allowAll(parsed, ignore), nil
	}

	policy.group = group
	policy.raw = string(body)
	return policy, nil
}

// FromCached rebuilds a policy from a previously stored robots body, as kept
// on the crawl record, so workers skip the refetch.
func (s *Service) FromCached(siteURL, body string, ignore bool) *Policy {
	parsed, _ := url.Parse(siteURL)
	policy := &Policy{
		agent:     s.userAgent,
		altAgent:  alternateCasing(s.userAgent),
		ignore:    ignore,
		raw:       body,
		originURL: parsed,
	}
	if ignore || body == "" {
		return policy
	}
	group, err := robotstxt.FromString(body)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", siteURL).Msg("Cached robots parse failed, allowing all")
		return policy
	}
	policy.group = group
	return policy
}

func (s *Service) allowAll(origin *url.URL, ignore bool) *Policy {
	return &Policy{
		agent:     s.userAgent,
		altAgent:  alternateCasing(s.userAgent),
		ignore:    ignore,
		originURL: origin,
	}
}

// alternateCasing flips the first letter so both "crawlspace" and
// "Crawlspace" group declarations match.
func alternateCasing(agent string) string {
	if agent == "" {
		return agent
	}
	first := agent[:1]
	if first == strings.ToLower(first) {
		return strings.ToUpper(first) + agent[1:]
	}
	return strings.ToLower(first) + agent[1:]
}

// Raw returns the robots.txt body as fetched, empty when unavailable.
func (p *Policy) Raw() string { return p.raw }

// IsAllowed tests a URL against the policy, trying both casings of the
// agent name.
func (p *Policy) IsAllowed(rawURL string) bool {
	if p.ignore || p.group == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return p.group.TestAgent(path, p.agent) || p.group.TestAgent(path, p.altAgent)
}

// CrawlDelay returns the crawl-delay directive for the agent, zero when
// unset.
func (p *Policy) CrawlDelay() time.Duration {
	if p.ignore || p.group == nil {
		return 0
	}
	if g := p.group.FindGroup(p.agent); g != nil && g.CrawlDelay > 0 {
		return g.CrawlDelay
	}
	if g := p.group.FindGroup(p.altAgent); g != nil && g.CrawlDelay > 0 {
		return g.CrawlDelay
	}
	return 0
}

// Sitemaps lists sitemap URLs declared by robots.txt.
func (p *Policy) Sitemaps() []string {
	if p.group == nil {
		return nil
	}
	return p.group.Sitemaps
}
