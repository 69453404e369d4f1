package safety

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBodyTooLarge is returned by ReadBody when a request body is longer
// than the server accepts.
var ErrBodyTooLarge = errors.New("request body too large")

// NewHTTPClient creates the HTTP client the storage backends talk through.
// The overall timeout bounds a single request, so large downloads need a
// generous value; zero disables it.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
		},
	}
}

// ReadBody reads an incoming request body of at most limit bytes. Anything
// longer fails with ErrBodyTooLarge instead of being truncated.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid body limit: %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// Endpoint is a storage endpoint override from config, such as a MinIO or
// fake-gcs-server address.
type Endpoint struct {
	URL *url.URL
	// Loopback is set for localhost and loopback IPs. Backends use it to
	// switch to emulator-friendly settings.
	Loopback bool
}

// ParseEndpoint checks that raw is an http(s) URL with a host and no
// embedded credentials. Credentials belong in the backend config, where
// they are masked.
func ParseEndpoint(raw string) (*Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint host is required")
	}
	if u.User != nil {
		return nil, fmt.Errorf("endpoint must not embed credentials")
	}
	return &Endpoint{URL: u, Loopback: isLoopback(u.Hostname())}, nil
}

func isLoopback(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
