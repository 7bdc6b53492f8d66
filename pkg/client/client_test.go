package client_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/apiward/go-client/pkg/auth"
	"github.com/apiward/go-client/pkg/client"
	"github.com/apiward/go-client/pkg/request"
)

type testStruct struct {
	Foo string `json:"foo"`
}

type testError struct {
	ErrorMsg string `json:"error"`
}

type testWriteCloser struct {
	io.Writer
}

func (v testWriteCloser) Close() error {
	_, err := v.Write([]byte("<CLOSE>"))
	return err
}

func (e testError) Error() string {
	return e.ErrorMsg
}

func TestNew(t *testing.T) {
	t.Parallel()
	c := client.New()
	assert.NotNil(t, c)
}

func TestSimpleRequest(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, httpmock.NewStringResponder(200, "test"))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestBytesResult(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com", httpmock.NewJsonResponderOrPanic(200, map[string]any{"foo": "bar"}))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	var resultDef []byte
	_, result, err := request.NewHTTPRequest(c).WithGet("https://example.com").WithResult(&resultDef).Send(ctx)
	assert.NoError(t, err)
	assert.Same(t, &resultDef, result)
	assert.Equal(t, []byte(`{"foo":"bar"}`), resultDef)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestWriterResult(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com", httpmock.NewJsonResponderOrPanic(200, map[string]any{"foo": "bar"}))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	var out strings.Builder
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").WithResult(io.Writer(&out)).Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, `{"foo":"bar"}`, out.String())
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestWriteCloserResult(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com", httpmock.NewJsonResponderOrPanic(200, map[string]any{"foo": "bar"}))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	var out strings.Builder
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").WithResult(testWriteCloser{Writer: &out}).Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, `{"foo":"bar"}<CLOSE>`, out.String())
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestJsonMapResult(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, httpmock.NewJsonResponderOrPanic(200, map[string]any{"foo": "bar"}))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	resultDef := make(map[string]any)
	_, result, err := request.NewHTTPRequest(c).WithGet("https://example.com").WithResult(&resultDef).Send(ctx)
	assert.NoError(t, err)
	assert.Same(t, &resultDef, result)
	assert.Equal(t, &map[string]any{"foo": "bar"}, result)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestJsonStructResult(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, httpmock.NewJsonResponderOrPanic(200, map[string]any{"foo": "bar"}))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	resultDef := &testStruct{}
	_, result, err := request.NewHTTPRequest(c).WithGet("https://example.com").WithResult(resultDef).Send(ctx)
	assert.NoError(t, err)
	assert.Same(t, resultDef, result)
	assert.Equal(t, &testStruct{Foo: "bar"}, result)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestJsonErrorResult(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, httpmock.NewJsonResponderOrPanic(400, map[string]any{"error": "error message"}))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	errDef := &testError{}
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").WithError(errDef).Send(ctx)
	assert.Error(t, err)
	assert.Same(t, errDef, err)
	assert.Equal(t, &testError{ErrorMsg: "error message"}, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestWithBaseUrl(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com/baz", httpmock.NewStringResponder(200, "test"))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry()).WithBaseURL("https://example.com")
	_, _, err := request.NewHTTPRequest(c).WithGet("baz").Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com/baz"])
}

func TestPathParams(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com/branch/123/job/456", httpmock.NewStringResponder(200, "test"))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	_, _, err := request.NewHTTPRequest(c).
		WithGet("https://example.com/branch/{branchId}/job/{jobId}").
		AndPathParam("branchId", "123").
		AndPathParam("jobId", "456").
		Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com/branch/123/job/456"])
}

func TestDefaultUserAgent(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "apiward-go-client", req.Header.Get("User-Agent"))
		return httpmock.NewStringResponse(200, "test"), nil
	})

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestWithUserAgent(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "my-user-agent", req.Header.Get("User-Agent"))
		return httpmock.NewStringResponse(200, "test"), nil
	})

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry()).WithUserAgent("my-user-agent")
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestHeaderPrecedence(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		// The request header wins over the common client header
		assert.Equal(t, []string{"request-value"}, req.Header.Values("X-Trace"))
		// The auth header wins over everything
		assert.Equal(t, []string{"token-from-provider"}, req.Header.Values("X-Api-Key"))
		return httpmock.NewStringResponse(200, "test"), nil
	})

	ctx := context.Background()
	c := client.New().
		WithTransport(transport).
		WithRetry(client.TestingRetry()).
		WithHeader("X-Trace", "client-value").
		WithHeader("X-Api-Key", "client-value").
		WithAuth(auth.Static("X-Api-Key", "token-from-provider"))
	_, _, err := request.NewHTTPRequest(c).
		WithGet("https://example.com").
		AndHeader("X-Trace", "request-value").
		AndHeader("X-Api-Key", "request-value").
		Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestWithHeaders(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "value1", req.Header.Get("Key1"))
		assert.Equal(t, "value2", req.Header.Get("Key2"))
		return httpmock.NewStringResponse(200, "test"), nil
	})

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry()).WithHeaders(map[string]string{
		"key1": "value1",
		"key2": "value2",
	})
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestRequestContext(t *testing.T) {
	t.Parallel()

	type testKeyType string
	testKey := testKeyType("testKey")

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		// Request context should be used by HTTP request
		assert.Equal(t, "testValue", req.Context().Value(testKey))
		return httpmock.NewStringResponse(200, "test"), nil
	})

	ctx := context.WithValue(context.Background(), testKey, "testValue")
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	// Mocked response, it never completes within the attempt timeout
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com", func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	// Create client
	ctx := context.Background()
	c := client.New().
		WithTransport(transport).
		WithRetry(client.TestingRetry()).
		WithTimeout(5 * time.Millisecond)

	// Get, a timeout is retryable, so the whole attempt budget is used
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.Error(t, err)
	assert.Equal(t, `request GET "https://example.com" failed: timeout after 5ms`, err.Error())
	assert.Equal(t, client.DefaultMaxAttempts, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestContext_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	// Mocked response, the caller cancels the context during the attempt
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com", func(req *http.Request) (*http.Response, error) {
		cancel()
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	// Create client
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())

	// Get, a cancellation is not retried
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.Error(t, err)
	assert.Equal(t, `request GET "https://example.com" failed: canceled`, err.Error())
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com", httpmock.NewErrorResponder(assert.AnError))

	ctx := context.Background()
	c := client.New().WithTransport(transport).WithRetry(client.TestingRetry())
	_, _, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `request GET "https://example.com" failed:`)

	// A transport error is retryable
	assert.Equal(t, client.DefaultMaxAttempts, transport.GetCallCountInfo()["GET https://example.com"])
}
