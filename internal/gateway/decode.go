package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Decode unmarshals the response JSON into T. A response without JSON
// yields the zero value.
func Decode[T any](resp *Response) (T, error) {
	var out T
	if resp == nil || resp.JSON == nil {
		return out, nil
	}
	if err := json.Unmarshal(resp.JSON, &out); err != nil {
		return out, fmt.Errorf("gateway: decode %T: %w", out, err)
	}
	return out, nil
}

// Call performs the request and decodes the response into T.
func Call[T any](ctx context.Context, c *Client, method, path string, opts *RequestOptions) (T, error) {
	resp, err := c.Do(ctx, method, path, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](resp)
}
