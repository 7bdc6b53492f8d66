package client

import (
	"context"
	"errors"
	"net/http"
)

// Outcome is the classification of one completed attempt.
type Outcome int

const (
	// OutcomeSucceed - status code 2xx, terminal success.
	OutcomeSucceed Outcome = iota
	// OutcomeRetry - transport failure or server-side transient status, worth retrying.
	OutcomeRetry
	// OutcomeRetryAuthExpired - the server rejected the credential (401/403),
	// the next attempt must be preceded by a forced token refresh.
	OutcomeRetryAuthExpired
	// OutcomeFail - deterministic client error, a retry will not change the result.
	OutcomeFail
	// OutcomeFailNotFound - status 404, a missing resource will not appear on retry.
	OutcomeFailNotFound
)

// Retryable returns true if the next attempt has a prospect of success.
func (o Outcome) Retryable() bool {
	return o == OutcomeRetry || o == OutcomeRetryAuthExpired
}

// Classify sorts one attempt into terminal success, terminal failure or retryable failure.
//
// Transport failures (timeout, network error) are always retryable, except a
// cancellation requested by the caller. Of the HTTP statuses, only 401/403
// (expired credential) and 5xx (server-side transient) are retryable, other
// 4xx failures are deterministic and retrying them only wastes the budget.
func Classify(res *http.Response, err error) Outcome {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return OutcomeFail
		}
		return OutcomeRetry
	}

	code := res.StatusCode
	switch {
	case code >= 200 && code < 300:
		return OutcomeSucceed
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return OutcomeRetryAuthExpired
	case code == http.StatusNotFound:
		return OutcomeFailNotFound
	case code >= 500 && code < 600:
		return OutcomeRetry
	default:
		return OutcomeFail
	}
}
