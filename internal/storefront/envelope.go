// Package storefront holds the feature services that talk to the backend
// through the API gateway: auth, stores, products, orders, feedback and
// push-token registration.
//
// The package is a client library for code in this module that calls the
// backend directly. The proxy binary does not construct it; callers build
// one with New over a gateway.Client.
package storefront

import (
	"context"
	"errors"
	"fmt"

	"foodshare-proxy/internal/gateway"
)

// ErrNoEnvelope is returned when a successful response carries no JSON body.
var ErrNoEnvelope = errors.New("storefront: response has no JSON envelope")

// Envelope is the backend's response wrapper.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

// EnvelopeError is returned when the backend answered 2xx with success=false.
type EnvelopeError struct {
	Message string
}

func (e *EnvelopeError) Error() string {
	if e.Message == "" {
		return "storefront: request failed"
	}
	return e.Message
}

// call issues the request with an optional bearer token and unwraps the envelope.
func call[T any](ctx context.Context, gw *gateway.Client, method, path, token string, opts *gateway.RequestOptions) (T, error) {
	var zero T

	if opts == nil {
		opts = &gateway.RequestOptions{}
	}
	if token != "" {
		headers := make(map[string]string, len(opts.Headers)+1)
		for k, v := range opts.Headers {
			headers[k] = v
		}
		headers["Authorization"] = "Bearer " + token
		opts.Headers = headers
	}

	resp, err := gw.Do(ctx, method, path, opts)
	if err != nil {
		return zero, err
	}
	if resp.JSON == nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, ErrNoEnvelope)
	}

	env, err := gateway.Decode[Envelope[T]](resp)
	if err != nil {
		return zero, err
	}
	if !env.Success {
		return zero, &EnvelopeError{Message: env.Message}
	}
	return env.Data, nil
}
