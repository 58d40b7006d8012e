package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a wire-stable error identifier surfaced to clients.
type ErrorCode string

const (
	ErrCodeScrapeTimeout    ErrorCode = "SCRAPE_TIMEOUT"
	ErrCodeMapTimeout       ErrorCode = "MAP_TIMEOUT"
	ErrCodeDNSResolution    ErrorCode = "SCRAPE_DNS_RESOLUTION_ERROR"
	ErrCodeAllEnginesFailed ErrorCode = "SCRAPE_ALL_ENGINES_FAILED"
	ErrCodeSSL              ErrorCode = "SCRAPE_SSL_ERROR"
	ErrCodeSiteError        ErrorCode = "SCRAPE_SITE_ERROR"
	ErrCodeZDRViolation     ErrorCode = "SCRAPE_ZDR_VIOLATION_ERROR"
	ErrCodeRacedRedirect    ErrorCode = "SCRAPE_RACED_REDIRECT_ERROR"
	ErrCodeSitemapError     ErrorCode = "SCRAPE_SITEMAP_ERROR"
	ErrCodeCrawlDenial      ErrorCode = "CRAWL_DENIAL"
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrCodeUnknown          ErrorCode = "UNKNOWN_ERROR"
)

// TransportError carries a wire-stable code plus the HTTP status the
// coordinator boundary maps it to. Anything that is not a TransportError
// surfaces as UNKNOWN_ERROR with a correlation id.
type TransportError struct {
	Code    ErrorCode
	Message string
	Status  int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewTransportError creates a transport error with an explicit HTTP status.
func NewTransportError(code ErrorCode, status int, message string) *TransportError {
	return &TransportError{Code: code, Message: message, Status: status}
}

// ErrScrapeTimeout builds the timeout error every admission failure path maps to.
func ErrScrapeTimeout(message string) *TransportError {
	return &TransportError{Code: ErrCodeScrapeTimeout, Message: message, Status: http.StatusRequestTimeout}
}

// ErrMapTimeout builds the map pipeline deadline error.
func ErrMapTimeout(message string) *TransportError {
	return &TransportError{Code: ErrCodeMapTimeout, Message: message, Status: http.StatusRequestTimeout}
}

// AsTransportError unwraps err into a TransportError if one is in the chain.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// HasCode reports whether err carries the given wire code.
func HasCode(err error, code ErrorCode) bool {
	if te, ok := AsTransportError(err); ok {
		return te.Code == code
	}
	return false
}
