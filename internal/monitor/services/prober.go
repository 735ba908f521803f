package services

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"vigil/internal/core"
)

// Probe error kinds, recorded alongside the error message
const (
	ErrorKindTimeout    = "timeout"
	ErrorKindDNS        = "dns"
	ErrorKindTLS        = "tls"
	ErrorKindConnection = "connection"
	ErrorKindNetwork    = "network"
)

// ProbeResult is the outcome of one check. Exactly one of Status and Error
// is set. CheckedAt is the time the probe started, which keeps a slow
// probe in the minute it was scheduled for.
type ProbeResult struct {
	Status    *int
	Error     *string
	ErrorKind string
	LatencyMS int64
	CheckedAt time.Time
}

// Prober performs HTTP checks against monitored websites
type Prober struct {
	client  *http.Client
	timeout time.Duration
	logger  *core.Logger
}

// NewProber creates a prober whose checks give up after timeout
func NewProber(timeout time.Duration, logger *core.Logger) *Prober {
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
		logger:  logger,
	}
}

// Probe performs a single GET against the URL. Any HTTP response, whatever
// its status code, is a completed check; only a failed request produces an
// error result.
func (p *Prober) Probe(ctx context.Context, rawURL string) ProbeResult {
	start := time.Now()
	result := ProbeResult{CheckedAt: start.UTC()}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		result.LatencyMS = time.Since(start).Milliseconds()
		return p.failed(result, rawURL, err)
	}

	resp, err := p.client.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		return p.failed(result, rawURL, err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	result.Status = &status

	p.logger.Debug("Check completed", "url", rawURL, "status", status, "latency_ms", result.LatencyMS)
	return result
}

func (p *Prober) failed(result ProbeResult, rawURL string, err error) ProbeResult {
	message := err.Error()
	result.Error = &message
	result.ErrorKind = classifyProbeError(err)

	p.logger.Debug("Check failed", "url", rawURL, "kind", result.ErrorKind, "error", err)
	return result
}

// classifyProbeError maps a request error to one of the probe error kinds.
// Timeouts are checked first since a timeout during DNS resolution or the
// TLS handshake still counts as a timeout.
func classifyProbeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindDNS
	}

	var certVerifyErr *tls.CertificateVerificationError
	if errors.As(err, &certVerifyErr) {
		return ErrorKindTLS
	}
	var unknownAuthorityErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthorityErr) {
		return ErrorKindTLS
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return ErrorKindTLS
	}
	var certInvalidErr x509.CertificateInvalidError
	if errors.As(err, &certInvalidErr) {
		return ErrorKindTLS
	}
	var recordHeaderErr tls.RecordHeaderError
	if errors.As(err, &recordHeaderErr) {
		return ErrorKindTLS
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ErrorKindConnection
	}

	return ErrorKindNetwork
}
