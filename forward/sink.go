package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

var (
	// ErrTransportTimeout indicates that the server did not answer in time.
	ErrTransportTimeout = errors.New("forward: transport timeout")
	// ErrTransportConnection indicates a dial or I/O failure talking to the server.
	ErrTransportConnection = errors.New("forward: transport connection error")
	// ErrTransportStatus indicates a response with a status other than 200.
	ErrTransportStatus = errors.New("forward: unexpected status")
	// ErrInvalidURL indicates an unusable server URL.
	ErrInvalidURL = errors.New("forward: invalid url")
)

const (
	contentTypeJSON = "application/json"
	excerptLimit    = 256
	healthPath      = "/health"
)

// Sink accepts delivery records. Deliver returns the response status on
// success and a transport error otherwise. Implementations must honor ctx.
type Sink interface {
	Deliver(ctx context.Context, rec Record) (int, error)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec Record) (int, error)

// Deliver calls f(ctx, rec).
func (f SinkFunc) Deliver(ctx context.Context, rec Record) (int, error) {
	return f(ctx, rec)
}

// HTTPSink posts records as JSON to a fixed URL.
type HTTPSink struct {
	url       string
	healthURL string
	client    *http.Client
}

// HTTPSinkOption customizes an HTTPSink.
type HTTPSinkOption func(*HTTPSink)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPSinkOption {
	return func(s *HTTPSink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithHealthURL overrides the health endpoint used by Probe.
func WithHealthURL(u string) HTTPSinkOption {
	return func(s *HTTPSink) {
		if u != "" {
			s.healthURL = u
		}
	}
}

// NewHTTPSink creates a sink posting to rawURL. The health endpoint defaults
// to the /health path on the same scheme and host.
func NewHTTPSink(rawURL string, opts ...HTTPSinkOption) (*HTTPSink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	s := &HTTPSink{
		url:       rawURL,
		healthURL: (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: healthPath}).String(),
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// URL returns the delivery endpoint.
func (s *HTTPSink) URL() string { return s.url }

// HealthURL returns the endpoint used by Probe.
func (s *HTTPSink) HealthURL() string { return s.healthURL }

// Deliver implements Sink.
func (s *HTTPSink) Deliver(ctx context.Context, rec Record) (int, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("forward: encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	return s.do(req)
}

// Probe issues a GET against the health endpoint and returns its status.
func (s *HTTPSink) Probe(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.healthURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	return s.do(req)
}

func (s *HTTPSink) do(req *http.Request) (int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, excerptLimit))
		return resp.StatusCode, fmt.Errorf("%w: %d: %s", ErrTransportStatus, resp.StatusCode, sanitize(excerpt))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTransportTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrTransportConnection, err)
}

func sanitize(b []byte) string {
	if !utf8.Valid(b) {
		return fmt.Sprintf("%d bytes", len(b))
	}

	return strings.TrimSpace(string(b))
}
