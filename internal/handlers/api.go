package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
)

// APIHandler serves the service-level endpoints.
type APIHandler struct {
	logger  arbor.ILogger
	started time.Time
}

func NewAPIHandler(logger arbor.ILogger) *APIHandler {
	return &APIHandler{logger: logger, started: time.Now()}
}

// Health handles GET /health.
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Version handles GET /version.
func (h *APIHandler) Version(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"full":    common.GetFullVersion(),
	})
}
