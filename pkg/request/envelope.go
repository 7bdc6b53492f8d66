package request

import (
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

// json - replacement of the standard encoding/json library, it is faster for larger responses.
var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

// Envelope is the terminal result of one logical HTTP call.
//
// It is created once, after the last attempt, and is immutable thereafter.
// HTTP and network failures never escape as errors from the send pipeline,
// they are folded into an unsuccessful Envelope. The only error-returning
// entry point is the EnsureSuccess method.
type Envelope struct {
	// Succeeded is true if the last attempt completed with status code 2xx.
	Succeeded bool
	// StatusCode of the last attempt, 0 if no HTTP exchange completed.
	StatusCode int
	// Header of the last response, nil if no HTTP exchange completed.
	Header http.Header
	// Body is the raw response body of the last attempt.
	Body []byte
	// ErrMessage describes the failure, empty if Succeeded is true.
	ErrMessage string
	// Attempts is the number of attempts made, 1-based.
	Attempts int
}

// ValueEnvelope is an Envelope with the response body mapped to the type T.
//
// The value is populated if and only if the call succeeded and the response
// body was non-empty and parseable. A parse failure on an otherwise
// successful response converts the envelope to an unsuccessful one.
type ValueEnvelope[T any] struct {
	Envelope
	value    T
	hasValue bool
}

// NewEnvelope builds the Envelope from the last attempt.
// The response may be nil when the call failed on the transport level.
func NewEnvelope(response HTTPResponse, body []byte, err error) Envelope {
	out := Envelope{Body: body, Attempts: 1}
	if response != nil {
		out.StatusCode = response.StatusCode()
		if raw := response.RawResponse(); raw != nil {
			out.Header = raw.Header
		}
	}
	if err == nil && response != nil && response.IsSuccess() {
		out.Succeeded = true
	} else if err != nil {
		out.ErrMessage = err.Error()
	} else {
		out.ErrMessage = fmt.Sprintf("%d %s", out.StatusCode, http.StatusText(out.StatusCode))
	}
	return out
}

// NewValueEnvelope builds the typed envelope and maps the JSON body to T.
func NewValueEnvelope[T any](response HTTPResponse, body []byte, err error) ValueEnvelope[T] {
	out := ValueEnvelope[T]{Envelope: NewEnvelope(response, body, err)}
	if !out.Succeeded || len(body) == 0 {
		return out
	}
	if err := json.Unmarshal(body, &out.value); err != nil {
		// A 2xx response with a malformed body is a failed call.
		out.Succeeded = false
		out.ErrMessage = fmt.Sprintf("cannot decode JSON response: %s", err)
		var empty T
		out.value = empty
		return out
	}
	out.hasValue = true
	return out
}

// NotFound returns true if the server replied with status 404.
func (e Envelope) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// EnsureSuccess returns an error describing the failure, or nil for a successful call.
func (e Envelope) EnsureSuccess() error {
	if e.Succeeded {
		return nil
	}
	if e.StatusCode == 0 {
		return fmt.Errorf(`request failed: %s`, e.ErrMessage)
	}
	return fmt.Errorf(`request failed with status %d: %s`, e.StatusCode, e.ErrMessage)
}

// Value returns the mapped value and true if it is present.
func (e ValueEnvelope[T]) Value() (T, bool) {
	return e.value, e.hasValue
}

// ValueOrErr returns the mapped value, or an error describing why it is absent:
// an HTTP/network failure, a body parse failure, or an empty body.
func (e ValueEnvelope[T]) ValueOrErr() (T, error) {
	var empty T
	if err := e.EnsureSuccess(); err != nil {
		return empty, err
	}
	if !e.hasValue {
		return empty, fmt.Errorf(`request succeeded with status %d, but the response body is empty`, e.StatusCode)
	}
	return e.value, nil
}
