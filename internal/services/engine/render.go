package engine

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
)

// renderer drives a shared headless browser for pages that need javascript
// execution. Each render runs in its own tab context off a lazily started
// allocator so an idle service carries no browser process.
type renderer struct {
	mu        sync.Mutex
	allocCtx  context.Context
	allocStop context.CancelFunc
	userAgent string
	logger    arbor.ILogger
}

func newRenderer(userAgent string, logger arbor.ILogger) *renderer {
	return &renderer{userAgent: userAgent, logger: logger}
}

func (r *renderer) allocator() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allocCtx == nil {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent(r.userAgent),
			chromedp.DisableGPU,
			chromedp.NoSandbox,
		)
		r.allocCtx, r.allocStop = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	return r.allocCtx
}

// render loads the page, waits for the network to settle, and returns the
// rendered DOM. Response status comes from the main-frame response event.
func (r *renderer) render(ctx context.Context, req interfaces.EngineRequest) (body []byte, status int, resolved string, err error) {
	tabCtx, cancel := chromedp.NewContext(r.allocator())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if ok {
		var timeoutCancel context.CancelFunc
		tabCtx, timeoutCancel = context.WithDeadline(tabCtx, deadline)
		defer timeoutCancel()
	}

	status = 200
	resolved = req.URL
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument {
			status = int(resp.Response.Status)
			resolved = resp.Response.URL
		}
	})

	var html string
	tasks := chromedp.Tasks{network.Enable()}
	if len(req.Headers) > 0 {
		headers := make(network.Headers, len(req.Headers))
		for k, v := range req.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}
	tasks = append(tasks,
		chromedp.Navigate(req.URL),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)

	if err := chromedp.Run(tabCtx, tasks); err != nil {
		return nil, 0, "", err
	}
	return []byte(html), status, resolved, nil
}

// close tears the shared browser allocator down.
func (r *renderer) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allocStop != nil {
		r.allocStop()
		r.allocCtx, r.allocStop = nil, nil
	}
}
