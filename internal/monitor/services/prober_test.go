package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"syscall"
	"testing"
	"time"

	"vigil/internal/core"
)

func testLogger() *core.Logger {
	return core.NewLogger("text", "error")
}

func TestProbeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewProber(5*time.Second, testLogger())
	result := prober.Probe(context.Background(), server.URL)

	if result.Status == nil || *result.Status != http.StatusOK {
		t.Fatalf("Expected status 200, got %v", result.Status)
	}
	if result.Error != nil {
		t.Errorf("Expected no error, got %s", *result.Error)
	}
	if result.LatencyMS < 0 {
		t.Errorf("Expected non-negative latency, got %d", result.LatencyMS)
	}
	if result.CheckedAt.IsZero() {
		t.Error("Expected CheckedAt to be set")
	}
	if result.CheckedAt.Location() != time.UTC {
		t.Error("Expected CheckedAt in UTC")
	}
}

func TestProbeRecordsNon200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	prober := NewProber(5*time.Second, testLogger())
	result := prober.Probe(context.Background(), server.URL)

	// A response is a completed check whatever its code.
	if result.Status == nil || *result.Status != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %v", result.Status)
	}
	if result.Error != nil {
		t.Errorf("Expected no error, got %s", *result.Error)
	}
}

func TestProbeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	prober := NewProber(100*time.Millisecond, testLogger())

	start := time.Now()
	result := prober.Probe(context.Background(), server.URL)
	elapsed := time.Since(start)

	if result.Status != nil {
		t.Errorf("Expected no status, got %d", *result.Status)
	}
	if result.Error == nil {
		t.Fatal("Expected an error")
	}
	if result.ErrorKind != ErrorKindTimeout {
		t.Errorf("Expected kind %s, got %s", ErrorKindTimeout, result.ErrorKind)
	}
	if elapsed > time.Second {
		t.Errorf("Expected the probe to give up near its 100ms timeout, took %s", elapsed)
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	prober := NewProber(2*time.Second, testLogger())
	result := prober.Probe(context.Background(), serverURL)

	if result.Status != nil {
		t.Errorf("Expected no status, got %d", *result.Status)
	}
	if result.ErrorKind != ErrorKindConnection {
		t.Errorf("Expected kind %s, got %s", ErrorKindConnection, result.ErrorKind)
	}
}

func TestProbeTLSVerificationFailure(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// The prober uses the default transport, so the self-signed test
	// certificate must fail verification.
	prober := NewProber(2*time.Second, testLogger())
	result := prober.Probe(context.Background(), server.URL)

	if result.Status != nil {
		t.Errorf("Expected no status, got %d", *result.Status)
	}
	if result.ErrorKind != ErrorKindTLS {
		t.Errorf("Expected kind %s, got %s", ErrorKindTLS, result.ErrorKind)
	}
}

func TestClassifyProbeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "context deadline",
			err:  &url.Error{Op: "Get", URL: "http://example.com", Err: context.DeadlineExceeded},
			want: ErrorKindTimeout,
		},
		{
			name: "dns not found",
			err:  &url.Error{Op: "Get", URL: "http://example.com", Err: &net.OpError{Op: "dial", Err: &net.DNSError{Name: "example.com", IsNotFound: true}}},
			want: ErrorKindDNS,
		},
		{
			name: "connection refused",
			err:  &url.Error{Op: "Get", URL: "http://example.com", Err: &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}},
			want: ErrorKindConnection,
		},
		{
			name: "connection reset",
			err:  &url.Error{Op: "Get", URL: "http://example.com", Err: &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}},
			want: ErrorKindConnection,
		},
		{
			name: "anything else",
			err:  errors.New("stream error: PROTOCOL_ERROR"),
			want: ErrorKindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyProbeError(tt.err); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
