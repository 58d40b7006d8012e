package engine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"

	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// classify maps a transport failure onto the wire-stable error codes.
// HTTP-level failures never reach here; they come back as unsuccessful
// documents with their status code.
func classify(err error, url string) *models.TransportError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.NewTransportError(models.ErrCodeDNSResolution, http.StatusBadGateway,
			"DNS resolution failed for "+url)
	}

	var certErr *tls.CertificateVerificationError
	var hostErr x509.HostnameError
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &unknownAuthErr) {
		return models.NewTransportError(models.ErrCodeSSL, http.StatusBadGateway,
			"TLS verification failed for "+url)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrScrapeTimeout("request timed out fetching " + url)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrScrapeTimeout("request timed out fetching " + url)
	}
	if errors.Is(err, context.Canceled) {
		return models.ErrScrapeTimeout("request cancelled fetching " + url)
	}

	return models.NewTransportError(models.ErrCodeAllEnginesFailed, http.StatusBadGateway, err.Error())
}
