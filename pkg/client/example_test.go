package client_test

import (
	"context"
	"fmt"
	"log"

	"github.com/apiward/go-client/pkg/auth"
	"github.com/apiward/go-client/pkg/client"
	"github.com/apiward/go-client/pkg/request"
)

func Example() {
	ctx := context.TODO()

	// Create client
	c := client.New().
		WithBaseURL("https://api.example.com").
		WithAuth(auth.Static("X-Api-Key", "<my-token>"))

	// Send request, the outcome is an envelope, not an error
	out := client.GetAs[map[string]any](ctx, c, "job/123")
	if out.NotFound() {
		log.Fatal("job not found")
	}
	job, err := out.ValueOrErr()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%#v", job)
}

func Example_requestBuilder() {
	ctx := context.TODO()

	// Create client
	c := client.New().
		WithBaseURL("https://api.example.com").
		WithAuth(auth.Delegate(func(ctx context.Context) (string, error) {
			// Load the token, e.g. from a secret store
			return "<my-token>", nil
		}))

	// Define request with a mapped result
	job := make(map[string]any)
	_, _, err := request.NewHTTPRequest(c).
		WithGet("job/{jobId}").
		AndPathParam("jobId", "123").
		WithResult(&job).
		Send(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%#v", job)
}
