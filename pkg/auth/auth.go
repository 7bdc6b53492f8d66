// Package auth provides pluggable authentication for the HTTP client.
//
// The client depends only on the Provider interface, never on a concrete
// variant. A Provider owns the staleness policy of its credentials: the
// client asks for the header before every attempt and forces RefreshToken
// only when the server signalled an expired credential (401/403).
//
// One Provider instance may be shared by many concurrent calls. Providers
// with mutable state must serialize their own refreshes, the client does
// not serialize across calls.
package auth

import (
	"context"
	"encoding/base64"
)

// Provider supplies the authorization header for outgoing requests.
type Provider interface {
	// RefreshToken obtains fresh credentials, discarding any cached ones.
	// Providers with static credentials implement it as a no-op.
	RefreshToken(ctx context.Context) error
	// AuthHeader returns the header key/value pair to attach to the request.
	// It may block while a token is obtained or refreshed.
	AuthHeader(ctx context.Context) (key, value string, err error)
}

// Basic returns a Provider with HTTP Basic credentials.
func Basic(username, password string) Provider {
	return basicProvider{user: username, pass: password}
}

// Static returns a Provider that always sends the given header.
// It covers custom schemes, for example API keys in a vendor header.
func Static(key, value string) Provider {
	return staticProvider{key: key, value: value}
}

// Delegate returns a Provider that obtains a bearer token from the given
// function on every attempt. The function owns caching and refreshing.
func Delegate(fn func(ctx context.Context) (token string, err error)) Provider {
	return delegateProvider{fn: fn}
}

type basicProvider struct {
	user string
	pass string
}

func (p basicProvider) RefreshToken(_ context.Context) error {
	return nil
}

func (p basicProvider) AuthHeader(_ context.Context) (string, string, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(p.user + ":" + p.pass))
	return "Authorization", "Basic " + credentials, nil
}

type staticProvider struct {
	key   string
	value string
}

func (p staticProvider) RefreshToken(_ context.Context) error {
	return nil
}

func (p staticProvider) AuthHeader(_ context.Context) (string, string, error) {
	return p.key, p.value, nil
}

type delegateProvider struct {
	fn func(ctx context.Context) (string, error)
}

func (p delegateProvider) RefreshToken(_ context.Context) error {
	return nil
}

func (p delegateProvider) AuthHeader(ctx context.Context) (string, string, error) {
	token, err := p.fn(ctx)
	if err != nil {
		return "", "", err
	}
	return "Authorization", "Bearer " + token, nil
}
