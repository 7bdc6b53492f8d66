// Package client provides support for defining an HTTP client for an API.
//
// Use request.HTTPRequest interface to define immutable HTTP requests, see request.NewHTTPRequest function.
// Requests are sent using the request.Sender interface.
//
// Client is a default implementation of the Sender interface.
// Client is based on the standard net/http package and contains
// authentication, retry and tracing/telemetry support.
//
// One Client.Send call runs a strictly sequential attempt loop:
// auth header fetch, dispatch with a per-attempt timeout, outcome
// classification, and an optional delay before the next attempt.
// Concurrent Send calls are fully independent, they share only the
// immutable Client value and, if configured, the auth.Provider.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/apiward/go-client/pkg/auth"
	"github.com/apiward/go-client/pkg/client/decode"
	"github.com/apiward/go-client/pkg/client/trace"
	"github.com/apiward/go-client/pkg/client/trace/otel"
	"github.com/apiward/go-client/pkg/request"
)

// Client is a default and configurable implementation of the request.Sender interface by Go native http.Client.
// It supports pluggable authentication, retry and tracing/telemetry.
type Client struct {
	transport      http.RoundTripper
	baseURL        *url.URL
	header         http.Header
	timeout        time.Duration
	retry          RetryConfig
	authProvider   auth.Provider
	traceFactories []trace.Factory
	tracer         oteltrace.Tracer
}

// New creates new HTTP Client.
func New() Client {
	c := Client{transport: DefaultTransport(), header: make(http.Header), timeout: DefaultTimeout, retry: DefaultRetry()}
	c.header.Set("User-Agent", "apiward-go-client")
	c.header.Set("Accept-Encoding", "gzip, br")
	return c
}

// WithBaseURL returns a clone of the Client with base url set.
func (c Client) WithBaseURL(baseURLStr string) Client {
	baseURL, err := url.Parse(baseURLStr)
	if err != nil {
		panic(fmt.Errorf(`base url "%s" is not valid: %w`, baseURLStr, err))
	}
	// Normalize base URL, so url.Parse(relative) against it will work
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/"
	c.baseURL = baseURL
	return c
}

// WithUserAgent returns a clone of the Client with user agent set.
func (c Client) WithUserAgent(v string) Client {
	c.header = c.header.Clone()
	c.header.Set("User-Agent", v)
	return c
}

// WithHeader returns a clone of the Client with common header set.
func (c Client) WithHeader(key, value string) Client {
	c.header = c.header.Clone()
	c.header.Set(key, value)
	return c
}

// WithHeaders returns a clone of the Client with common headers set.
func (c Client) WithHeaders(headers map[string]string) Client {
	c.header = c.header.Clone()
	for k, v := range headers {
		c.header.Set(k, v)
	}
	return c
}

// WithTransport returns a clone of the Client with a HTTP transport set.
func (c Client) WithTransport(transport http.RoundTripper) Client {
	if transport == nil || transport == http.RoundTripper(nil) {
		panic(fmt.Errorf("transport cannot be nil"))
	}
	c.transport = transport
	return c
}

// WithRetry returns a clone of the Client with retry config set.
func (c Client) WithRetry(retry RetryConfig) Client {
	if retry.MaxAttempts < 1 {
		panic(fmt.Errorf(`retry max attempts must be at least 1, found %d`, retry.MaxAttempts))
	}
	c.retry = retry
	return c
}

// WithTimeout returns a clone of the Client with a single attempt timeout set.
// The timeout bounds one attempt, not the whole call, zero disables it.
func (c Client) WithTimeout(timeout time.Duration) Client {
	if timeout < 0 {
		panic(fmt.Errorf(`timeout cannot be negative, found %s`, timeout))
	}
	c.timeout = timeout
	return c
}

// WithAuth returns a clone of the Client with the authentication provider set.
// The auth header is fetched before every attempt and always wins over
// common and per-request headers of the same name.
func (c Client) WithAuth(provider auth.Provider) Client {
	if provider == nil {
		panic(fmt.Errorf("auth provider cannot be nil"))
	}
	c.authProvider = provider
	return c
}

// AndTrace returns a clone of the Client with an additional trace factory.
// Hooks from all registered factories are composed.
func (c Client) AndTrace(fn trace.Factory) Client {
	c.traceFactories = append(c.traceFactories[:len(c.traceFactories):len(c.traceFactories)], fn)
	return c
}

// WithTelemetry returns a clone of the Client with OpenTelemetry tracing and metrics enabled.
// The tracer is also used by request.APIRequest for the logical API operation span.
func (c Client) WithTelemetry(tracerProvider oteltrace.TracerProvider, meterProvider otelmetric.MeterProvider, opts ...otel.Option) Client {
	if tracerProvider != nil {
		c.tracer = tracerProvider.Tracer("github.com/apiward/go-client")
	}
	return c.AndTrace(otel.NewTrace(tracerProvider, meterProvider, opts...))
}

// Tracer returns the configured OpenTelemetry tracer, or nil.
func (c Client) Tracer() oteltrace.Tracer {
	return c.tracer
}

type ctxKey string

const retryAttemptCtxKey = ctxKey("retry-attempt")

// ContextRetryAttempt returns the attempt number stored in the HTTP request context.
func ContextRetryAttempt(ctx context.Context) (int, bool) {
	v, found := ctx.Value(retryAttemptCtxKey).(int)
	return v, found
}

// Send method sends HTTP request and returns HTTP response, it implements the request.Sender interface.
func (c Client) Send(ctx context.Context, reqDef request.HTTPRequest) (res *http.Response, result any, err error) {
	// Method cannot be called on an empty value
	if c.transport == nil {
		panic(fmt.Errorf("client value is not initialized"))
	}

	// If method or url is not set, panic occurs. So we get these values first.
	method := reqDef.Method()
	reqURLStr := reqDef.URL().String()

	// Compose trace hooks from all registered factories
	var tc *trace.ClientTrace
	for _, factory := range c.traceFactories {
		var newTrace *trace.ClientTrace
		ctx, newTrace = factory(ctx, reqDef)
		if newTrace != nil {
			newTrace.Compose(tc)
			tc = newTrace
		}
	}

	// Replace path parameters
	for k, v := range reqDef.PathParams() {
		reqURLStr = strings.ReplaceAll(reqURLStr, url.PathEscape("{"+k+"}"), url.PathEscape(v))
	}

	// Convert to absolute url
	var reqURL *url.URL
	if c.baseURL == nil {
		reqURL, err = url.Parse(reqURLStr)
	} else {
		reqURL, err = c.baseURL.Parse(reqURLStr)
	}
	if err != nil {
		return nil, nil, err
	}

	// Set query parameters
	if queryParams := reqDef.QueryParams(); queryParams != nil {
		reqURL.RawQuery = queryParams.Encode()
	}

	// Trace request processed
	if tc != nil && tc.RequestProcessed != nil {
		defer func() {
			tc.RequestProcessed(result, err)
		}()
	}

	// Attempt loop, see doc comment of the package.
	// The delay sequence is not built for MaxAttempts = 1, retries are disabled.
	var state backoff.BackOff
	if c.retry.MaxAttempts > 1 {
		state = c.retry.NewBackoff()
	}
	attempt := 1
	var rawBody []byte
	for {
		res, rawBody, err = c.doAttempt(ctx, attempt, method, reqURL, reqDef, tc)
		outcome := Classify(res, err)
		if !outcome.Retryable() || attempt >= c.retry.MaxAttempts {
			break
		}

		// Get next delay
		delay := state.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		// Trace retry
		if tc != nil && tc.RetryDelay != nil {
			tc.RetryDelay(attempt, delay)
		}

		// Wait, the only cancellation point between attempts
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.NewTimer(delay).C:
			// time elapsed, retry
		}

		// An expired credential forces a fresh token before the next attempt,
		// a cached header would only fail again.
		if outcome == OutcomeRetryAuthExpired && c.authProvider != nil {
			if tc != nil && tc.AuthRefresh != nil {
				tc.AuthRefresh(attempt)
			}
			// A refresh failure is not terminal, the next attempt surfaces a fresh auth error.
			_ = c.authProvider.RefreshToken(ctx)
		}

		attempt++
	}

	// Handle transport error
	if err != nil {
		return nil, nil, handleSendError(method, reqURL, c.timeout, err)
	}

	// Process body
	if r, e, unexpectedErr := mapResponseBody(res, rawBody, reqDef.ResultDef(), reqDef.ErrorDef()); unexpectedErr == nil {
		// No unexpected error, set result/error result
		result, err = r, e
	} else {
		// Unexpected error
		err = fmt.Errorf(`cannot process request %s "%s": %w`, method, reqURL.String(), unexpectedErr)
	}

	// Generic HTTP error
	if err == nil && res.StatusCode > 399 {
		return res, nil, fmt.Errorf(`request %s "%s" failed: %d %s`, method, reqURL.String(), res.StatusCode, http.StatusText(res.StatusCode))
	}

	return res, result, err
}

// doAttempt performs one attempt: auth header fetch, dispatch, full body read.
// The whole attempt, including the body read, is bounded by the client timeout.
func (c Client) doAttempt(ctx context.Context, attempt int, method string, reqURL *url.URL, reqDef request.HTTPRequest, tc *trace.ClientTrace) (*http.Response, []byte, error) {
	attemptCtx := context.WithValue(ctx, retryAttemptCtxKey, attempt)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, c.timeout)
		defer cancel()
	}
	if tc != nil {
		attemptCtx = httptrace.WithClientTrace(attemptCtx, &tc.ClientTrace)
	}

	// Create request
	req, err := http.NewRequestWithContext(attemptCtx, method, reqURL.String(), nil)
	if err != nil {
		return nil, nil, err
	}

	// Global headers
	for k, values := range c.header {
		for _, v := range values {
			req.Header.Set(k, v)
		}
	}

	// Request headers
	for k, values := range reqDef.RequestHeader() {
		req.Header.Del(k) // clear global values
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	// Auth header, re-fetched on every attempt, wins over all other headers.
	// The provider owns the token staleness policy and may block here on a refresh.
	if c.authProvider != nil {
		key, value, err := c.authProvider.AuthHeader(attemptCtx)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot get auth header: %w", err)
		}
		req.Header.Set(key, value)
	}

	// Body
	if reqDef.RequestBody() != nil {
		// GetBody factory is used for requests when a redirect requires reading the body more than once.
		req.GetBody = func() (io.ReadCloser, error) {
			if body, err := requestBody(reqDef); err == nil {
				return body, nil
			} else {
				return nil, fmt.Errorf(`request %s "%s": cannot prepare request body: %w`, req.Method, req.URL.String(), err)
			}
		}
		req.Body, err = req.GetBody()
		if err != nil {
			return nil, nil, err
		}
	}

	// Trace attempt start
	if tc != nil && tc.HTTPRequestStart != nil {
		tc.HTTPRequestStart(req)
	}

	// Send, the native client handles redirects within the attempt
	nativeClient := http.Client{Transport: c.transport}
	res, err := nativeClient.Do(req)

	// Trace attempt done
	if tc != nil && tc.HTTPRequestDone != nil {
		tc.HTTPRequestDone(res, err)
	}
	if err != nil {
		return nil, nil, err
	}

	// Read the whole body before the attempt timeout is released
	rawBody, err := readResponseBody(res)
	if err != nil {
		return res, nil, err
	}

	return res, rawBody, nil
}

// readResponseBody reads and decodes the whole response body
// and replaces it with an in-memory reader, so it stays readable.
func readResponseBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	defer res.Body.Close()

	bodyReader, err := decode.Decode(res.Body, res.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	rawBody, err := io.ReadAll(bodyReader)
	if err != nil {
		return nil, fmt.Errorf(`cannot read response body: %w`, err)
	}

	res.Body = io.NopCloser(bytes.NewReader(rawBody))
	return rawBody, nil
}

func requestBody(r request.HTTPRequest) (io.ReadCloser, error) {
	contentType := r.RequestHeader().Get("Content-Type")
	body := r.RequestBody()
	if v, ok := body.(string); ok {
		return io.NopCloser(strings.NewReader(v)), nil
	}
	if v, ok := body.([]byte); ok {
		return io.NopCloser(bytes.NewReader(v)), nil
	}
	if v, ok := body.(io.ReadSeekCloser); ok {
		// io.ReadSeekCloser stream
		if _, err := v.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return v, nil
	}
	if v, ok := body.(io.ReadSeeker); ok {
		// io.ReadSeeker stream
		if _, err := v.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return io.NopCloser(v), nil
	}
	if body != nil && isJSONContentType(contentType) {
		// Json body
		c, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf(`cannot encode JSON body: %w`, err)
		}
		return io.NopCloser(bytes.NewReader(c)), nil
	}
	// empty body
	return nil, nil
}

// mapResponseBody maps the raw body of the last attempt to the result or error definition.
func mapResponseBody(res *http.Response, rawBody []byte, resultDef any, errDef error) (result any, err error, unexpectedErr error) {
	if res.StatusCode == http.StatusNoContent {
		return nil, nil, nil
	}

	contentType := res.Header.Get("Content-Type")
	if v, ok := resultDef.(*[]byte); ok {
		// Load response body as []byte
		*v = rawBody
		return v, nil, nil
	} else if v, ok := resultDef.(*string); ok {
		// Load response body as string
		*v = string(rawBody)
		return v, nil, nil
	} else if v, ok := resultDef.(io.WriteCloser); ok {
		// Stream response to io.WriteCloser
		if _, err := v.Write(rawBody); err != nil {
			return nil, nil, fmt.Errorf(`cannot write response body: %w`, err)
		}
		if err := v.Close(); err != nil {
			return nil, nil, fmt.Errorf(`cannot write response body: %w`, err)
		}
	} else if v, ok := resultDef.(io.Writer); ok {
		// Stream response to io.Writer
		if _, err := v.Write(rawBody); err != nil {
			return nil, nil, fmt.Errorf(`cannot write response body: %w`, err)
		}
	} else if isJSONContentType(contentType) && len(rawBody) > 0 {
		// Map JSON response
		if res.StatusCode > 199 && res.StatusCode < 300 && resultDef != nil {
			// Map JSON response to defined result
			if err := json.Unmarshal(rawBody, resultDef); err != nil {
				return nil, nil, fmt.Errorf(`cannot decode JSON result: %w`, err)
			}
			return resultDef, nil, nil
		} else if res.StatusCode > 399 && errDef != nil {
			// Map JSON response to defined error
			if err := json.Unmarshal(rawBody, errDef); err != nil {
				return nil, nil, fmt.Errorf(`cannot decode JSON error: %w`, err)
			}
			// Set HTTP request
			if v, ok := errDef.(errorWithRequest); ok {
				v.SetRequest(res.Request)
			}
			// Set HTTP response
			if v, ok := errDef.(errorWithResponse); ok {
				v.SetResponse(res)
			}
			return nil, errDef, nil
		}
	}
	return nil, nil, nil
}

func handleSendError(method string, reqURL *url.URL, attemptTimeout time.Duration, err error) error {
	// Timeout
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) {
		err = urlError(method, reqURL, fmt.Errorf("timeout after %s", attemptTimeout))
	} else if errors.Is(err, context.Canceled) {
		err = urlError(method, reqURL, fmt.Errorf("canceled"))
	} else if errors.As(err, &netErr) && netErr.Timeout() {
		err = urlError(method, reqURL, fmt.Errorf("timeout after %s", attemptTimeout))
	}

	// Url error
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf(`request %s "%s" failed: %w`, strings.ToUpper(urlErr.Op), urlErr.URL, urlErr.Err)
	}

	return err
}

type errorWithRequest interface {
	error
	SetRequest(request *http.Request)
}

type errorWithResponse interface {
	error
	SetResponse(response *http.Response)
}

func urlError(method string, reqURL *url.URL, err error) *url.Error {
	return &url.Error{Op: method, URL: reqURL.String(), Err: err}
}
