package client

import (
	"context"
	"net/http"

	"github.com/apiward/go-client/pkg/request"
)

// RequestOption modifies a request definition before it is sent.
// Options are applied in order, a later option wins on conflict.
type RequestOption func(request.HTTPRequest) request.HTTPRequest

// WithRequestHeader sets a header of a single request.
func WithRequestHeader(key, value string) RequestOption {
	return func(r request.HTTPRequest) request.HTTPRequest {
		return r.AndHeader(key, value)
	}
}

// WithRequestHeaders sets headers of a single request.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r request.HTTPRequest) request.HTTPRequest {
		return r.AndHeaders(headers)
	}
}

// WithQueryParam sets a query parameter of a single request.
func WithQueryParam(key, value string) RequestOption {
	return func(r request.HTTPRequest) request.HTTPRequest {
		return r.AndQueryParam(key, value)
	}
}

// WithJSONBody sets a JSON body of a single request.
func WithJSONBody(body any) RequestOption {
	return func(r request.HTTPRequest) request.HTTPRequest {
		return r.WithJSONBody(body)
	}
}

// Get sends a GET request and returns the outcome as an envelope, it never panics on a failed request.
func (c Client) Get(ctx context.Context, url string, ops ...RequestOption) request.Envelope {
	return c.call(ctx, http.MethodGet, url, ops)
}

// Post sends a POST request and returns the outcome as an envelope.
func (c Client) Post(ctx context.Context, url string, ops ...RequestOption) request.Envelope {
	return c.call(ctx, http.MethodPost, url, ops)
}

// Put sends a PUT request and returns the outcome as an envelope.
func (c Client) Put(ctx context.Context, url string, ops ...RequestOption) request.Envelope {
	return c.call(ctx, http.MethodPut, url, ops)
}

// Patch sends a PATCH request and returns the outcome as an envelope.
func (c Client) Patch(ctx context.Context, url string, ops ...RequestOption) request.Envelope {
	return c.call(ctx, http.MethodPatch, url, ops)
}

// Delete sends a DELETE request and returns the outcome as an envelope.
func (c Client) Delete(ctx context.Context, url string, ops ...RequestOption) request.Envelope {
	return c.call(ctx, http.MethodDelete, url, ops)
}

// GetAs sends a GET request and decodes a JSON response of the type T into the envelope.
func GetAs[T any](ctx context.Context, c Client, url string, ops ...RequestOption) request.ValueEnvelope[T] {
	return callAs[T](ctx, c, http.MethodGet, url, ops)
}

// PostAs sends a POST request and decodes a JSON response of the type T into the envelope.
func PostAs[T any](ctx context.Context, c Client, url string, ops ...RequestOption) request.ValueEnvelope[T] {
	return callAs[T](ctx, c, http.MethodPost, url, ops)
}

// PutAs sends a PUT request and decodes a JSON response of the type T into the envelope.
func PutAs[T any](ctx context.Context, c Client, url string, ops ...RequestOption) request.ValueEnvelope[T] {
	return callAs[T](ctx, c, http.MethodPut, url, ops)
}

// PatchAs sends a PATCH request and decodes a JSON response of the type T into the envelope.
func PatchAs[T any](ctx context.Context, c Client, url string, ops ...RequestOption) request.ValueEnvelope[T] {
	return callAs[T](ctx, c, http.MethodPatch, url, ops)
}

// DeleteAs sends a DELETE request and decodes a JSON response of the type T into the envelope.
func DeleteAs[T any](ctx context.Context, c Client, url string, ops ...RequestOption) request.ValueEnvelope[T] {
	return callAs[T](ctx, c, http.MethodDelete, url, ops)
}

func (c Client) call(ctx context.Context, method, url string, ops []RequestOption) request.Envelope {
	res, body, err := c.callRaw(ctx, method, url, ops)
	out := request.NewEnvelope(res, body, err)
	out.Attempts = attemptsFromResponse(res)
	return out
}

func callAs[T any](ctx context.Context, c Client, method, url string, ops []RequestOption) request.ValueEnvelope[T] {
	res, body, err := c.callRaw(ctx, method, url, ops)
	out := request.NewValueEnvelope[T](res, body, err)
	out.Attempts = attemptsFromResponse(res)
	return out
}

func (c Client) callRaw(ctx context.Context, method, url string, ops []RequestOption) (request.HTTPResponse, []byte, error) {
	var rawBody []byte
	reqDef := request.NewHTTPRequest(c).WithMethod(method).WithURL(url).WithResult(&rawBody)
	for _, op := range ops {
		reqDef = op(reqDef)
	}
	res, _, err := reqDef.Send(ctx)
	return res, rawBody, err
}

// attemptsFromResponse reads the attempt number stored by the attempt loop
// in the HTTP request context. A transport failure carries no response,
// then the number of attempts cannot be determined and 1 is reported.
func attemptsFromResponse(res request.HTTPResponse) int {
	if res == nil || res.RawResponse() == nil || res.RawRequest() == nil {
		return 1
	}
	if v, found := ContextRetryAttempt(res.RawRequest().Context()); found {
		return v
	}
	return 1
}
