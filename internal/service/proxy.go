// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"foodshare-proxy/internal/client"
	"foodshare-proxy/internal/config"
	"foodshare-proxy/internal/metrics"
	"foodshare-proxy/internal/model"
	"foodshare-proxy/internal/upstream"
)

// excludedRequestHeaders are dropped before forwarding; net/http sets both per attempt.
var excludedRequestHeaders = []string{"Host", "Content-Length"}

const tracerName = "foodshare-proxy/service"

// ErrRequestBody is returned when the inbound body cannot be read.
var ErrRequestBody = errors.New("read request body")

// ExhaustedError is returned when every attempt failed. Its message is the
// message of the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string { return e.Err.Error() }

func (e *ExhaustedError) Unwrap() error { return e.Err }

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client     *client.UpstreamClient
	pool       *upstream.Pool
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, pool *upstream.Pool, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:     c,
		pool:       pool,
		timeout:    cfg.Proxy.Timeout(),
		maxRetries: cfg.Proxy.Retries(),
		logger:     logger.With("component", "proxy_service"),
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
	}
}

// NewPool builds the upstream pool from configuration.
func NewPool(cfg *config.Config) *upstream.Pool {
	return upstream.NewPool(cfg.Proxy.Upstreams, upstream.NewCounter())
}

// Forward sends a ProxyRequest to the next upstream host and returns its response.
// The caller is responsible for closing the response body.
//
// Any attempt error (network failure or timeout) triggers another attempt on
// the next round-robin host, up to maxRetries extra attempts with no delay
// between them. Upstream HTTP statuses, including 4xx/5xx and 3xx, are
// successful results. An empty pool fails before any network call.
func (s *ProxyService) Forward(ctx context.Context, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	if s.pool.Len() == 0 {
		return nil, upstream.ErrEmptyPool
	}

	var payload *model.Payload
	if hasBody(pr.Method) {
		p, err := model.ReadPayload(pr.Body, pr.Header.Get("Content-Type"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRequestBody, err)
		}
		payload = p
	}

	header := forwardableHeaders(pr.Header)
	path := strings.Join(pr.Segments, "/")
	attempts := s.maxRetries + 1

	var lastErr error
	for n := 1; n <= attempts; n++ {
		host, err := s.pool.Next()
		if err != nil {
			return nil, err
		}
		if n > 1 && s.metrics != nil {
			s.metrics.ProxyRetries.Inc()
		}

		resp, err := s.attempt(ctx, n, host, pr.Method, buildTargetURL(host, path, pr.RawQuery), header.Clone(), payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		s.logger.Warn("upstream attempt failed",
			"attempt", n,
			"max_attempts", attempts,
			"host", host,
			"method", pr.Method,
			"err", err,
		)

		// Nobody is waiting for the answer anymore.
		if ctx.Err() != nil {
			attempts = n
			break
		}
	}

	if s.metrics != nil {
		s.metrics.ProxyExhausted.Inc()
	}
	return nil, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func (s *ProxyService) attempt(ctx context.Context, n int, host, method, target string, header http.Header, payload *model.Payload) (*model.ProxyResponse, error) {
	kind := model.BodyBinary
	if payload != nil {
		kind = payload.Kind
	}

	ctx, span := s.tracer.Start(ctx, "proxy.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("server.address", host),
			attribute.Int("proxy.attempt", n),
			attribute.String("proxy.body_kind", kind.String()),
			attribute.Int("http.request.body.size", payload.Len()),
		),
	)
	defer span.End()

	s.logger.Debug("forwarding request",
		"attempt", n,
		"method", method,
		"host", host,
		"body_kind", kind.String(),
	)

	resp, err := s.client.Do(ctx, method, target, header, payload.Reader(), s.timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

// hasBody reports whether the body of a request with this method is forwarded.
func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// forwardableHeaders copies every header except Host and Content-Length.
func forwardableHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, h := range excludedRequestHeaders {
		dst.Del(h)
	}
	return dst
}

// buildTargetURL joins host, path and the untouched raw query.
func buildTargetURL(host, path, rawQuery string) string {
	var b strings.Builder
	b.Grow(len(host) + len(path) + len(rawQuery) + 2)
	b.WriteString(host)
	b.WriteByte('/')
	b.WriteString(path)
	if rawQuery != "" {
		b.WriteByte('?')
		b.WriteString(rawQuery)
	}
	return b.String()
}
