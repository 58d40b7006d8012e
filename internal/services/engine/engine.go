package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// Options configures the default engine from the [engine] config section.
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	RequestDelay   time.Duration
	MaxBodyBytes   int64
	EnableRender   bool
}

// Engine is the default scraping engine: plain HTTP fetch with per-domain
// politeness, goquery extraction, markdown conversion, and an optional
// headless-render path for javascript-heavy pages.
type Engine struct {
	httpClient *http.Client
	limiters   *domainLimiters
	renderer   *renderer
	logger     arbor.ILogger
	opts       Options
}

func New(opts Options, logger arbor.ILogger) *Engine {
	if opts.UserAgent == "" {
		opts.UserAgent = "crawlspace"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	e := &Engine{
		httpClient: &http.Client{
			Timeout: opts.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		limiters: newDomainLimiters(opts.RequestDelay),
		logger:   logger,
		opts:     opts,
	}
	if opts.EnableRender {
		e.renderer = newRenderer(opts.UserAgent, logger)
	}
	return e
}

// Close releases the headless browser, when one was started.
func (e *Engine) Close() {
	if e.renderer != nil {
		e.renderer.close()
	}
}

// Fetch retrieves a raw body. Non-2xx responses return the body and status
// with a nil error; transport failures return a classified error.
func (e *Engine) Fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	if err := e.limiters.Wait(ctx, rawURL); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, classify(err, rawURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, classify(err, rawURL)
	}
	return body, resp.StatusCode, nil
}

// Scrape fetches and extracts one page. HTTP-level failures come back as an
// unsuccessful document; transport failures as classified errors.
func (e *Engine) Scrape(ctx context.Context, req interfaces.EngineRequest) (*models.Document, error) {
	start := time.Now()
	timeout := req.Timeout
	if timeout <= 0 || timeout > e.opts.RequestTimeout {
		timeout = e.opts.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		body     []byte
		status   int
		resolved string
		err      error
	)
	if req.RenderJS && e.renderer != nil {
		if err := e.limiters.Wait(ctx, req.URL); err != nil {
			return nil, classify(err, req.URL)
		}
		body, status, resolved, err = e.renderer.render(ctx, req)
	} else {
		body, status, resolved, err = e.fetchPage(ctx, req)
	}
	if err != nil {
		if terr, ok := models.AsTransportError(err); ok {
			return nil, terr
		}
		return nil, classify(err, req.URL)
	}

	doc := &models.Document{
		URL:         req.URL,
		ResolvedURL: resolved,
		StatusCode:  status,
		Success:     status >= 200 && status < 300,
		FetchedAt:   start,
	}
	if !doc.Success {
		doc.Error = fmt.Sprintf("upstream returned status %d", status)
	}
	e.extract(doc, body, resolved)
	doc.Duration = time.Since(start)
	return doc, nil
}

func (e *Engine) fetchPage(ctx context.Context, req interfaces.EngineRequest) (body []byte, status int, resolved string, err error) {
	if err := e.limiters.Wait(ctx, req.URL); err != nil {
		return nil, 0, "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to build request for %s: %w", req.URL, err)
	}
	httpReq.Header.Set("User-Agent", e.opts.UserAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, "", err
	}
	return body, resp.StatusCode, resp.Request.URL.String(), nil
}

// extract pulls title, description, language, links, and markdown out of an
// HTML body. Non-HTML bodies leave the content fields empty.
func (e *Engine) extract(doc *models.Document, body []byte, baseURL string) {
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}

	doc.HTML = string(body)
	doc.Title = strings.TrimSpace(parsed.Find("title").First().Text())
	if desc, ok := parsed.Find(`meta[name="description"]`).Attr("content"); ok {
		doc.Description = strings.TrimSpace(desc)
	}
	if lang, ok := parsed.Find("html").Attr("lang"); ok {
		doc.Language = strings.TrimSpace(lang)
	}

	base, _ := url.Parse(baseURL)
	if base == nil {
		base, _ = url.Parse(doc.URL)
	}
	seen := make(map[string]struct{})
	parsed.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		abs := href
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				abs = base.ResolveReference(ref).String()
			}
		}
		normalized, err := common.NormalizeURL(abs, false)
		if err != nil {
			return
		}
		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}
		doc.Links = append(doc.Links, normalized)
	})

	converter := md.NewConverter(common.Hostname(baseURL), true, nil)
	markdown, err := converter.ConvertString(doc.HTML)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", doc.URL).Msg("Markdown conversion failed")
		return
	}
	doc.Markdown = markdown
}

// ResolveRedirects follows the redirect chain for a URL and returns the
// final location.
func (e *Engine) ResolveRedirects(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)

	client := &http.Client{Timeout: e.opts.RequestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", classify(err, rawURL)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusMethodNotAllowed {
		getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", err
		}
		getReq.Header.Set("User-Agent", e.opts.UserAgent)
		getResp, err := client.Do(getReq)
		if err != nil {
			return "", classify(err, rawURL)
		}
		defer getResp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(getResp.Body, 1<<20))
		return getResp.Request.URL.String(), nil
	}
	return resp.Request.URL.String(), nil
}
