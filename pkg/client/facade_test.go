package client_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiward/go-client/pkg/client"
	"github.com/apiward/go-client/pkg/client/trace"
	"github.com/apiward/go-client/pkg/request"
)

type jobPayload struct {
	X int `json:"x"`
}

func TestEnvelope_Success(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", "https://example.com/job", httpmock.NewStringResponder(200, `{"x":1}`))

	out := c.Get(context.Background(), "https://example.com/job")
	assert.True(t, out.Succeeded, spew.Sdump(out))
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, `{"x":1}`, string(out.Body))
	assert.Equal(t, 1, out.Attempts)
	assert.False(t, out.NotFound())
	assert.NoError(t, out.EnsureSuccess())
}

func TestEnvelope_NotFound(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", "https://example.com/job", httpmock.NewStringResponder(404, ""))

	out := c.Get(context.Background(), "https://example.com/job")
	assert.False(t, out.Succeeded)
	assert.True(t, out.NotFound())
	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.Equal(t, 1, out.Attempts)

	// A missing resource is terminal, exactly one request is sent
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com/job"])
}

func TestEnvelope_RetryExhausted(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	c = c.WithRetry(client.TestingRetry())
	transport.RegisterResponder("GET", "https://example.com/job", httpmock.NewStringResponder(500, `boom`))

	out := c.Get(context.Background(), "https://example.com/job")
	assert.False(t, out.Succeeded)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
	assert.Equal(t, client.DefaultMaxAttempts, out.Attempts)

	err := out.EnsureSuccess()
	require.Error(t, err)
	assert.Equal(t, `request failed with status 500: request GET "https://example.com/job" failed: 500 Internal Server Error`, err.Error())

	// The whole attempt budget is used
	assert.Equal(t, client.DefaultMaxAttempts, transport.GetCallCountInfo()["GET https://example.com/job"])
}

func TestEnvelope_TransportError(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	c = c.WithRetry(client.TestingRetry())
	transport.RegisterResponder("GET", "https://example.com/job", httpmock.NewErrorResponder(assert.AnError))

	out := c.Get(context.Background(), "https://example.com/job")
	assert.False(t, out.Succeeded)
	assert.Equal(t, 0, out.StatusCode)
	assert.NotEmpty(t, out.ErrMessage)
	assert.Error(t, out.EnsureSuccess())
}

func TestEnvelope_RequestOptions(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	c = c.WithHeader("X-Trace", "client-value")
	transport.RegisterResponder("POST", "https://example.com/job?tag=blue", func(req *http.Request) (*http.Response, error) {
		// The per-call header wins over the common client header
		assert.Equal(t, "call-value", req.Header.Get("X-Trace"))
		return httpmock.NewStringResponse(201, ""), nil
	})

	out := c.Post(
		context.Background(),
		"https://example.com/job",
		client.WithQueryParam("tag", "blue"),
		client.WithRequestHeader("X-Trace", "call-value"),
	)
	assert.True(t, out.Succeeded)
	assert.Equal(t, http.StatusCreated, out.StatusCode)
}

func TestGetAs_Value(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", "https://example.com/job", httpmock.NewStringResponder(200, `{"x":1}`))

	out := client.GetAs[jobPayload](context.Background(), c, "https://example.com/job")
	assert.True(t, out.Succeeded)

	v, found := out.Value()
	assert.True(t, found)
	assert.Equal(t, jobPayload{X: 1}, v)

	v, err := out.ValueOrErr()
	assert.NoError(t, err)
	assert.Equal(t, jobPayload{X: 1}, v)
}

func TestGetAs_MalformedBody(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", "https://example.com/job", httpmock.NewStringResponder(200, `{"x":`))

	out := client.GetAs[jobPayload](context.Background(), c, "https://example.com/job")
	assert.False(t, out.Succeeded)
	assert.Contains(t, out.ErrMessage, "cannot decode JSON response")

	_, err := out.ValueOrErr()
	assert.Error(t, err)
}

func TestPostAs_Created(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	transport.RegisterResponder("POST", "https://example.com/job", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		return httpmock.NewStringResponse(201, `{"x":2}`), nil
	})

	out := client.PostAs[jobPayload](
		context.Background(), c,
		"https://example.com/job",
		client.WithJSONBody(map[string]any{"x": 2}),
	)
	assert.True(t, out.Succeeded)

	v, err := out.ValueOrErr()
	assert.NoError(t, err)
	assert.Equal(t, jobPayload{X: 2}, v)
}

func TestAuthRefreshOnExpiredToken(t *testing.T) {
	t.Parallel()

	// The first attempt is rejected with 401, the token is refreshed, the second attempt succeeds.
	var calls int64
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com/job", func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			assert.Equal(t, "Bearer token-1", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(401, ""), nil
		}
		assert.Equal(t, "Bearer token-2", req.Header.Get("Authorization"))
		return httpmock.NewStringResponse(200, `{"x":1}`), nil
	})

	// Auth provider with a counted refresh
	provider := &countingProvider{token: "token-1"}

	// Trace auth refreshes
	var refreshAttempts []int
	refreshRecorder := func(ctx context.Context, reqDef request.HTTPRequest) (context.Context, *trace.ClientTrace) {
		return ctx, &trace.ClientTrace{
			AuthRefresh: func(attempt int) {
				refreshAttempts = append(refreshAttempts, attempt)
			},
		}
	}

	c := client.New().
		WithTransport(transport).
		WithRetry(client.TestingRetry()).
		WithAuth(provider).
		AndTrace(refreshRecorder)

	out := client.GetAs[jobPayload](context.Background(), c, "https://example.com/job")
	assert.True(t, out.Succeeded, spew.Sdump(out))
	assert.Equal(t, 2, out.Attempts)

	v, err := out.ValueOrErr()
	assert.NoError(t, err)
	assert.Equal(t, jobPayload{X: 1}, v)

	// One refresh, after the first attempt
	assert.Equal(t, 1, provider.refreshed)
	assert.Equal(t, []int{1}, refreshAttempts)
	assert.Equal(t, 2, transport.GetCallCountInfo()["GET https://example.com/job"])
}

func TestAuthExpired_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	// The credential stays invalid, the budget is used and the envelope reports the failure.
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com/job", httpmock.NewStringResponder(401, ""))

	provider := &countingProvider{token: "token-1"}
	c := client.New().
		WithTransport(transport).
		WithRetry(client.TestingRetry()).
		WithAuth(provider)

	out := c.Get(context.Background(), "https://example.com/job")
	assert.False(t, out.Succeeded)
	assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
	assert.Equal(t, client.DefaultMaxAttempts, out.Attempts)
	assert.Equal(t, client.DefaultMaxAttempts-1, provider.refreshed)
	assert.Equal(t, client.DefaultMaxAttempts, transport.GetCallCountInfo()["GET https://example.com/job"])
}

// countingProvider issues "token-<n>" and counts forced refreshes.
type countingProvider struct {
	token     string
	refreshed int
}

func (p *countingProvider) RefreshToken(ctx context.Context) error {
	p.refreshed++
	switch p.refreshed {
	case 1:
		p.token = "token-2"
	case 2:
		p.token = "token-3"
	default:
		p.token = "token-n"
	}
	return nil
}

func (p *countingProvider) AuthHeader(ctx context.Context) (string, string, error) {
	return "Authorization", "Bearer " + p.token, nil
}
