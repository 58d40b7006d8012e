package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/coordinator"
	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// ScrapeHandler serves synchronous scrape requests.
type ScrapeHandler struct {
	coord    *coordinator.Coordinator
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewScrapeHandler(coord *coordinator.Coordinator, logger arbor.ILogger) *ScrapeHandler {
	return &ScrapeHandler{
		coord:    coord,
		validate: validator.New(),
		logger:   logger,
	}
}

type scrapeRequest struct {
	URL       string          `json:"url" validate:"required,url"`
	Options   json.RawMessage `json:"options,omitempty"`
	TimeoutMs int64           `json:"timeout,omitempty"`
}

// Scrape handles POST /v1/scrape.
func (h *ScrapeHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteTransportError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, models.ErrCodeBadRequest, err.Error())
		return
	}

	doc, err := h.coord.Scrape(r.Context(), TenantID(r), coordinator.ScrapeRequest{
		URL:     req.URL,
		Options: req.Options,
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("url", req.URL).Msg("Scrape request failed")
		WriteTransportError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": doc.Success,
		"data":    doc,
	})
}
