package client

import (
	"os"
	"strings"

	"github.com/jarcoal/httpmock"

	"github.com/apiward/go-client/pkg/client/trace"
)

// NewTestClient creates the Client for tests.
//
// If the TEST_HTTP_CLIENT_VERBOSE environment variable is set to "true",
// then all HTTP requests and responses are dumped to stdout.
//
// Output may contain unmasked tokens, do not use it in production.
func NewTestClient() Client {
	c := New()
	if isVerbose() {
		c = c.AndTrace(trace.DumpTracer(os.Stdout))
	}
	return c
}

// NewMockedClient creates the Client with mocked HTTP transport.
func NewMockedClient() (Client, *httpmock.MockTransport) {
	mockTransport := httpmock.NewMockTransport()
	c := NewTestClient().WithTransport(mockTransport)
	return c, mockTransport
}

func isVerbose() bool {
	value := os.Getenv("TEST_HTTP_CLIENT_VERBOSE")
	return strings.EqualFold(value, "true")
}
