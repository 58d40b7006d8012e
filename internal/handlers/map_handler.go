package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/coordinator"
	"github.com/crawlspace-dev/crawlspace/internal/models"
	"github.com/crawlspace-dev/crawlspace/internal/services/mapper"
)

// MapHandler serves map requests.
type MapHandler struct {
	coord    *coordinator.Coordinator
	validate *validator.Validate
	logger   arbor.ILogger
	timeout  time.Duration
}

func NewMapHandler(coord *coordinator.Coordinator, timeout time.Duration, logger arbor.ILogger) *MapHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &MapHandler{
		coord:    coord,
		validate: validator.New(),
		logger:   logger,
		timeout:  timeout,
	}
}

type mapRequest struct {
	URL                string `json:"url" validate:"required,url"`
	Search             string `json:"search,omitempty"`
	Limit              int    `json:"limit,omitempty"`
	Sitemap            string `json:"sitemap,omitempty" validate:"omitempty,oneof=include only skip"`
	IncludeSubdomains  bool   `json:"include_subdomains,omitempty"`
	AllowExternalLinks bool   `json:"allow_external_links,omitempty"`
	FilterByPath       bool   `json:"filter_by_path,omitempty"`
	UseIndex           bool   `json:"use_index,omitempty"`
}

// Map handles POST /v1/map.
func (h *MapHandler) Map(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteTransportError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, models.ErrCodeBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.coord.Map(ctx, TenantID(r), mapper.Request{
		URL:                req.URL,
		Search:             req.Search,
		Limit:              req.Limit,
		Sitemap:            req.Sitemap,
		IncludeSubdomains:  req.IncludeSubdomains,
		AllowExternalLinks: req.AllowExternalLinks,
		FilterByPath:       req.FilterByPath,
		UseIndex:           req.UseIndex,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("url", req.URL).Msg("Map request failed")
		WriteTransportError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
