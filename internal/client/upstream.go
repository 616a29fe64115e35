// Package client provides the upstream HTTP client used by the edge proxy.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"foodshare-proxy/internal/config"
	"foodshare-proxy/internal/metrics"
	"foodshare-proxy/internal/model"
)

// ErrAttemptTimeout is the cancellation cause of an attempt that outlived its timeout.
var ErrAttemptTimeout = errors.New("upstream attempt timed out")

// UpstreamClient sends single attempts to an upstream host.
// It never follows redirects and never decodes the response body.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
// There is no client-wide timeout: each call to Do carries its own.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Proxy.IdleConnections,
		MaxIdleConnsPerHost: cfg.Proxy.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Forward Content-Encoding and body exactly as the upstream sent them.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do performs one attempt. A timer cancels the attempt if response headers
// have not arrived within timeout (zero disables it). Once headers arrive the
// timer is stopped, so a long streamed body is not cut off; the attempt's
// context is released when the returned body is closed.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(ctx context.Context, method, target string, header http.Header, body io.Reader, timeout time.Duration) (*model.ProxyResponse, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"method", method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() { cancel(ErrAttemptTimeout) })
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	fired := timer != nil && !timer.Stop()
	if err == nil && fired {
		// The timer won the race after headers arrived; the body is already doomed.
		_ = resp.Body.Close()
		err = context.Cause(ctx)
	}

	methodLabel := metrics.NormalizeMethod(method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(methodLabel).Observe(duration)
	}

	if err != nil {
		timedOut := errors.Is(context.Cause(ctx), ErrAttemptTimeout)
		cancel(nil)
		if c.metrics != nil {
			c.metrics.UpstreamErrors.WithLabelValues(methodLabel, errorReason(err, timedOut)).Inc()
		}
		if timedOut {
			return nil, fmt.Errorf("upstream request %s %s: %w after %s", method, req.URL.Host, ErrAttemptTimeout, timeout)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(methodLabel, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &releasingBody{ReadCloser: resp.Body, release: func() { cancel(nil) }},
	}, nil
}

// errorReason returns a bounded label for a failed attempt.
func errorReason(err error, timedOut bool) string {
	if timedOut {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	return "connection"
}

// releasingBody cancels the attempt context once the body is closed.
type releasingBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
