// Package wcl assembles the token cache, acquirer and executor from
// configuration. The service and the command line tool share it.
package wcl

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/cache"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/shex1627/warcraftlogs/internal/credentials"
	"github.com/shex1627/warcraftlogs/internal/graphql"
	"github.com/shex1627/warcraftlogs/internal/oauth"
)

// Client holds one credential lifecycle: a cache and the acquirer and
// executor sharing it.
type Client struct {
	Credentials config.CredentialConfig
	Tokens      cache.TokenCache
	Acquirer    *oauth.Acquirer
	Executor    *graphql.Executor
}

// New resolves the client secret and builds the components. The HTTP client
// is used for both token and API requests; nil uses a client with the
// configured timeout over http.DefaultTransport.
func New(ctx context.Context, cfg config.Config, httpClient *http.Client) (*Client, error) {
	creds, err := credentials.ResolveClientSecret(ctx, cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("client secret resolution failed: %w", err)
	}

	tokens, err := cache.NewFromConfig(cfg.TokenStore, creds.Buffer())
	if err != nil {
		return nil, fmt.Errorf("token cache configuration failed: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Transport: http.DefaultTransport,
			Timeout:   creds.HTTPTimeout(),
		}
	}

	acquirer := oauth.New(creds, tokens, oauth.WithHTTPClient(httpClient))
	executor := graphql.New(creds, acquirer, tokens, graphql.WithHTTPClient(httpClient))

	log.Info().
		Str("store", cfg.TokenStore.StoreType()).
		Dur("buffer", creds.Buffer()).
		Msg("credential manager configured")

	return &Client{
		Credentials: creds,
		Tokens:      tokens,
		Acquirer:    acquirer,
		Executor:    executor,
	}, nil
}

// Close releases the token cache.
func (c *Client) Close() error {
	return c.Tokens.Close()
}
