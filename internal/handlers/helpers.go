package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// TenantHeader carries the caller's tenant id. Requests without it fall back
// to the default tenant.
const TenantHeader = "X-Tenant-ID"

// TenantID extracts the tenant from the request.
func TenantID(r *http.Request) string {
	if id := r.Header.Get(TenantHeader); id != "" {
		return id
	}
	return "default"
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, code models.ErrorCode, message string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"code":    string(code),
		"error":   message,
	})
}

// WriteTransportError maps a classified error onto the wire contract:
// timeouts are 408, DNS failures are 200 with success=false, denials are
// 403, everything unrecognized is a 500 UNKNOWN_ERROR.
func WriteTransportError(w http.ResponseWriter, err error) error {
	terr, ok := models.AsTransportError(err)
	if !ok {
		return WriteError(w, http.StatusInternalServerError, models.ErrCodeUnknown, err.Error())
	}
	if terr.Code == models.ErrCodeDNSResolution {
		return WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"code":    string(terr.Code),
			"error":   terr.Message,
		})
	}
	status := terr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return WriteError(w, status, terr.Code, terr.Message)
}

// PageParams extracts skip/limit pagination from the query string.
func PageParams(r *http.Request) (skip, limit int) {
	limit = 20
	if s := r.URL.Query().Get("skip"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			skip = v
		}
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	return skip, limit
}

// DecodeBody parses a JSON request body into dst, returning a BAD_REQUEST
// transport error on malformed input.
func DecodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return models.NewTransportError(models.ErrCodeBadRequest, http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}
