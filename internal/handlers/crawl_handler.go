package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/coordinator"
	"github.com/crawlspace-dev/crawlspace/internal/interfaces"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// CrawlHandler serves crawl kickoff, status, and cancellation.
type CrawlHandler struct {
	coord    *coordinator.Coordinator
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewCrawlHandler(coord *coordinator.Coordinator, logger arbor.ILogger) *CrawlHandler {
	return &CrawlHandler{
		coord:    coord,
		validate: validator.New(),
		logger:   logger,
	}
}

type crawlRequest struct {
	URL            string                `json:"url" validate:"required,url"`
	CrawlerOptions models.CrawlerOptions `json:"crawler_options"`
	ScrapeOptions  json.RawMessage       `json:"scrape_options,omitempty"`
	MaxConcurrency int                   `json:"max_concurrency,omitempty"`
}

// Start handles POST /v1/crawl.
func (h *CrawlHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteTransportError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, models.ErrCodeBadRequest, err.Error())
		return
	}

	crawlID, err := h.coord.StartCrawl(r.Context(), TenantID(r), coordinator.CrawlRequest{
		URL:            req.URL,
		CrawlerOptions: req.CrawlerOptions,
		ScrapeOptions:  req.ScrapeOptions,
		MaxConcurrency: req.MaxConcurrency,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("url", req.URL).Msg("Crawl kickoff failed")
		WriteTransportError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"job_id": crawlID})
}

// Status handles GET /v1/crawl/{id}.
func (h *CrawlHandler) Status(w http.ResponseWriter, r *http.Request) {
	crawlID := pathID(r.URL.Path)
	if crawlID == "" {
		WriteError(w, http.StatusBadRequest, models.ErrCodeBadRequest, "missing crawl id")
		return
	}
	skip, limit := PageParams(r)

	page, err := h.coord.GetCrawlStatus(r.Context(), crawlID, skip, limit)
	if err != nil {
		WriteTransportError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// Cancel handles DELETE /v1/crawl/{id}.
func (h *CrawlHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	crawlID := pathID(r.URL.Path)
	if crawlID == "" {
		WriteError(w, http.StatusBadRequest, models.ErrCodeBadRequest, "missing crawl id")
		return
	}
	if err := h.coord.CancelCrawl(r.Context(), crawlID); err != nil {
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			WriteError(w, http.StatusNotFound, models.ErrCodeBadRequest, "Job not found")
			return
		}
		WriteTransportError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// pathID pulls the crawl id out of /v1/crawl/{id} style paths, dropping any
// trailing subresource.
func pathID(path string) string {
	trimmed := strings.TrimPrefix(path, "/v1/crawl/")
	if trimmed == path {
		return ""
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
