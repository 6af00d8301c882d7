// Package httpdriver implements the HTTP/1.1 + TLS protocol driver.
package httpdriver

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
)

// Config controls the shared *http.Client built for every HTTP operation
// dispatched through this driver.
type Config struct {
	ConnectTimeout time.Duration
	TLSSkipVerify  bool
}

func DefaultConfig() Config {
	return Config{ConnectTimeout: 5 * time.Second}
}

// Driver is the HTTP protocol driver. A single Driver is reused across
// every HTTP operation for a VU: the underlying *http.Client pools and
// reuses TCP/TLS connections, which is why HTTP (unlike TCP/UDP/MQTT/DB)
// does not go through the connection registry at all — net/http already
// owns connection reuse, and the registry's per-key single-handle
// invariant would only fight it.
type Driver struct {
	client *http.Client
}

// New builds a Driver with a dedicated dialer timeout, HTTP/2 attempted, and
// redirects denied by default (CheckRedirect returns http.ErrUseLastResponse).
func New(cfg Config) *Driver {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   0,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Driver{client: client}
}

// Execute performs one HTTP request and maps the result to an Outcome.
// Status-class 2xx/3xx counts as success; 4xx/5xx and transport errors
// count as failure but still return a populated Outcome rather than a Go
// error, per the driver failure policy.
func (d *Driver) Execute(ctx context.Context, reg *registry.Registry, op protocol.Operation, deadline time.Time) (*protocol.Outcome, error) {
	if op.Kind != protocol.KindHTTPRequest || op.HTTP == nil {
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
	p := op.HTTP

	method := p.Method
	if method == "" {
		method = http.MethodGet
	}

	reqCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var bodyReader io.Reader
	if len(p.Body) > 0 {
		bodyReader = bytes.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, p.URL, bodyReader)
	if err != nil {
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsedUs := time.Since(start).Microseconds()

	if err != nil {
		return &protocol.Outcome{
			Success:        false,
			ResponseTimeUs: elapsedUs,
			Error:          classifyError(err),
		}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	outcome := &protocol.Outcome{
		Success:        resp.StatusCode < 400,
		StatusCode:     resp.StatusCode,
		ResponseTimeUs: elapsedUs,
		Body:           body,
		Headers:        headers,
		ProtocolData: map[string]any{
			"bytes_in":  int64(len(body)),
			"bytes_out": int64(len(p.Body)),
		},
	}
	if !outcome.Success {
		outcome.Error = protocol.ErrProtocolError
	}
	return outcome, nil
}

func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return protocol.ErrCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return protocol.ErrTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return protocol.ErrConnectionRefused
	case strings.Contains(msg, "no such host"):
		return protocol.ErrResolveFailed
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return protocol.ErrTLSError
	case strings.Contains(msg, "EOF"), strings.Contains(msg, "reset by peer"):
		return protocol.ErrConnectionLost
	default:
		return protocol.ErrProtocolError
	}
}
