package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsConfig configures the OAuth2 client credentials Provider.
type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// HTTPClient is used for token endpoint calls, http.DefaultClient if nil.
	HTTPClient *http.Client
}

// ClientCredentials returns a Provider that obtains bearer tokens from an
// OAuth2 token endpoint using the client credentials grant.
//
// Tokens are cached until they expire. Concurrent AuthHeader calls share one
// in-flight token request, the refresh is coalesced by the underlying token
// source. RefreshToken discards the cached token and fetches a new one.
func ClientCredentials(cfg ClientCredentialsConfig) (Provider, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token url is not set")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is not set")
	}
	return &clientCredentialsProvider{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
		httpClient: cfg.HTTPClient,
	}, nil
}

type clientCredentialsProvider struct {
	cfg        clientcredentials.Config
	httpClient *http.Client

	lock   sync.Mutex
	source oauth2.TokenSource
}

func (p *clientCredentialsProvider) RefreshToken(ctx context.Context) error {
	// Drop the cached token, the next Token call fetches a fresh one.
	p.lock.Lock()
	p.source = nil
	p.lock.Unlock()
	_, err := p.token(ctx)
	return err
}

func (p *clientCredentialsProvider) AuthHeader(ctx context.Context) (string, string, error) {
	token, err := p.token(ctx)
	if err != nil {
		return "", "", err
	}
	return "Authorization", token.Type() + " " + token.AccessToken, nil
}

func (p *clientCredentialsProvider) token(ctx context.Context) (*oauth2.Token, error) {
	p.lock.Lock()
	if p.source == nil {
		// The token source lives longer than one call, so it is bound to the
		// background context, only the custom HTTP client is propagated.
		sourceCtx := context.Background()
		if p.httpClient != nil {
			sourceCtx = context.WithValue(sourceCtx, oauth2.HTTPClient, p.httpClient)
		}
		p.source = p.cfg.TokenSource(sourceCtx)
	}
	source := p.source
	p.lock.Unlock()

	// Stop if context has been cancelled
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("cannot obtain oauth2 token: %w", err)
	}
	return token, nil
}
