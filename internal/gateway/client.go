// Package gateway is a small JSON client for calling the backend directly.
// It builds URLs from a fixed base, bounds every attempt with a timeout,
// and retries failed calls a fixed number of times without delay.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"foodshare-proxy/internal/config"
	"foodshare-proxy/internal/metrics"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultTimeout = 8 * time.Second
	DefaultRetries = 1
)

const tracerName = "foodshare-proxy/gateway"

// ErrTimeout is wrapped by errors of attempts that exceeded their timeout.
var ErrTimeout = errors.New("request timed out")

// Config fixes the backend location and the per-call defaults.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retries int
}

// RequestOptions are per-call settings. The zero value is valid.
type RequestOptions struct {
	Headers map[string]string
	// Query values that are nil, nil pointers or empty strings are omitted;
	// the rest are formatted with fmt.Sprint.
	Query map[string]any
	// Body is JSON-encoded when the effective Content-Type is JSON (the
	// default). Other content types need a []byte, string or io.Reader,
	// which is sent unchanged.
	Body    any
	Timeout time.Duration // zero uses the client default
	Retries *int          // nil uses the client default
}

// Response is a successful (2xx) backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	// JSON is the body when the response declared a JSON content type and
	// the body parsed. It is nil for non-JSON bodies, for malformed JSON and
	// for a literal null.
	JSON json.RawMessage
	// Raw is the body as received.
	Raw []byte
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
	// Payload is the parsed JSON error body, if any.
	Payload json.RawMessage
}

func (e *HTTPError) Error() string { return e.Message }

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// Client issues JSON calls against a fixed base URL.
type Client struct {
	baseURL    string
	timeout    time.Duration
	retries    int
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// New creates a Client. The metrics parameter is optional.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		logger:  logger.With("component", "gateway"),
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a Client from the [gateway] section of the application config.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	return New(Config{
		BaseURL: cfg.Gateway.BaseURL,
		Timeout: cfg.Gateway.Timeout(),
		Retries: cfg.Gateway.RetryCount(),
	}, logger, m)
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, opts)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, opts)
}

// Do runs up to retries+1 attempts of the call and returns the first
// success. Every failure is retried, including non-2xx responses; the last
// error is returned once attempts run out.
func (c *Client) Do(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	target, err := c.BuildURL(path, opts.Query)
	if err != nil {
		return nil, err
	}

	header, body, err := prepare(opts)
	if err != nil {
		return nil, err
	}

	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	retries := c.retries
	if opts.Retries != nil && *opts.Retries >= 0 {
		retries = *opts.Retries
	}
	attempts := retries + 1

	ctx, span := c.tracer.Start(ctx, "gateway.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	var lastErr error
	for n := 1; n <= attempts; n++ {
		resp, err := c.execute(ctx, method, target, header, body, timeout)
		if err == nil {
			span.SetAttributes(
				attribute.Int("gateway.attempts", n),
				attribute.Int("http.response.status_code", resp.StatusCode),
			)
			c.record(method, "ok")
			return resp, nil
		}
		lastErr = err

		c.logger.Warn("gateway attempt failed",
			"attempt", n,
			"max_attempts", attempts,
			"method", method,
			"path", path,
			"err", err,
		)

		if ctx.Err() != nil {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())

	var httpErr *HTTPError
	if errors.As(lastErr, &httpErr) {
		c.record(method, "http_error")
	} else {
		c.record(method, "error")
	}
	return nil, lastErr
}

// BuildURL joins the base URL and path and appends the non-empty query values.
func (c *Client) BuildURL(path string, query map[string]any) (string, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")

	values := make(url.Values, len(query))
	for k, v := range query {
		if s, ok := queryValue(v); ok {
			values.Set(k, s)
		}
	}
	if len(values) > 0 {
		target += "?" + values.Encode()
	}

	if _, err := url.Parse(target); err != nil {
		return "", fmt.Errorf("gateway: build url: %w", err)
	}
	return target, nil
}

func (c *Client) execute(ctx context.Context, method, target string, header http.Header, body []byte, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header = header.Clone()
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	c.logger.Debug("gateway request", "method", method, "url", target)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.wrapTransportError(ctx, method, target, err, timeout)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.wrapTransportError(ctx, method, target, err, timeout)
	}

	payload := parseJSON(resp.Header.Get("Content-Type"), raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(payload, resp.StatusCode),
			Payload:    payload,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		JSON:       payload,
		Raw:        raw,
	}, nil
}

func (c *Client) wrapTransportError(ctx context.Context, method, target string, err error, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("gateway: %s %s: %w after %s", method, target, ErrTimeout, timeout)
	}
	return fmt.Errorf("gateway: %s %s: %w", method, target, err)
}

func (c *Client) record(method, outcome string) {
	if c.metrics != nil {
		c.metrics.GatewayCalls.WithLabelValues(metrics.NormalizeMethod(method), outcome).Inc()
	}
}

// prepare builds the shared header set and encodes the body once so that
// every attempt sends identical bytes.
func prepare(opts *RequestOptions) (http.Header, []byte, error) {
	header := make(http.Header)
	header.Set("Accept", "application/json")
	if opts.Body != nil {
		header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		header.Set(k, v)
	}
	if header.Get("X-Request-Id") == "" {
		header.Set("X-Request-Id", uuid.NewString())
	}

	if opts.Body == nil {
		return header, nil, nil
	}

	if isJSON(header.Get("Content-Type")) {
		b, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("gateway: encode body: %w", err)
		}
		return header, b, nil
	}

	switch v := opts.Body.(type) {
	case []byte:
		return header, v, nil
	case string:
		return header, []byte(v), nil
	case io.Reader:
		b, err := io.ReadAll(v)
		if err != nil {
			return nil, nil, fmt.Errorf("gateway: read body: %w", err)
		}
		return header, b, nil
	default:
		return nil, nil, fmt.Errorf("gateway: body of type %T cannot be sent as %q", opts.Body, header.Get("Content-Type"))
	}
}

// queryValue formats v, reporting false for values that must be omitted.
func queryValue(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		v = rv.Elem().Interface()
	}
	s := fmt.Sprint(v)
	return s, s != ""
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(contentType)
	}
	return strings.Contains(mt, "json")
}

// parseJSON returns raw when the content type is JSON and raw parses to a
// non-null value. Malformed JSON is treated as no JSON at all.
func parseJSON(contentType string, raw []byte) json.RawMessage {
	if !isJSON(contentType) {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.RawMessage(trimmed)
}

// errorMessage picks the payload's message, then its error, then "HTTP <status>".
func errorMessage(payload json.RawMessage, status int) string {
	if payload != nil {
		var body struct {
			Message any `json:"message"`
			Error   any `json:"error"`
		}
		if err := json.Unmarshal(payload, &body); err == nil {
			if s, ok := body.Message.(string); ok && s != "" {
				return s
			}
			if s, ok := body.Error.(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}
