package request_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/apiward/go-client/pkg/client"
	"github.com/apiward/go-client/pkg/request"
)

type job struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

func TestAPIRequest_Send(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", "https://example.com/job/123", httpmock.NewStringResponder(200, `{"id":123,"status":"done"}`))

	result := &job{}
	httpReq := request.NewHTTPRequest(c).WithGet("https://example.com/job/123").WithResult(result)

	var callOrder []string
	apiReq := request.NewAPIRequest(result, httpReq).
		WithBefore(func(ctx context.Context) error {
			callOrder = append(callOrder, "before")
			return nil
		}).
		WithOnSuccess(func(ctx context.Context, result *job) error {
			callOrder = append(callOrder, "success")
			return nil
		}).
		WithOnError(func(ctx context.Context, err error) error {
			callOrder = append(callOrder, "error")
			return err
		})

	out, err := apiReq.Send(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, &job{ID: 123, Status: "done"}, out)
	assert.Equal(t, []string{"before", "success"}, callOrder)
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com/job/123"])
}

func TestAPIRequest_BeforeError(t *testing.T) {
	t.Parallel()
	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", "https://example.com/job/123", httpmock.NewStringResponder(200, `{}`))

	httpReq := request.NewHTTPRequest(c).WithGet("https://example.com/job/123")
	apiReq := request.NewAPIRequest(request.NoResult{}, httpReq).
		WithBefore(func(ctx context.Context) error {
			return errors.New("stop")
		})

	err := apiReq.SendOrErr(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "stop", err.Error())

	// The request has not been sent
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestNoOperationAPIRequest(t *testing.T) {
	t.Parallel()
	out, err := request.NewNoOperationAPIRequest(&job{ID: 1}).Send(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, &job{ID: 1}, out)
}
