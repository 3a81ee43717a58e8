package oauth

import (
	"context"

	"golang.org/x/oauth2"
)

type clientTokenSource struct {
	ctx      context.Context
	acquirer *Acquirer
}

// TokenSource adapts the client-credentials token to oauth2.TokenSource, so
// that oauth2.NewClient can build an HTTP client for the public API. Each
// call consults the cache, so the source needs no reuse wrapper and reports
// no expiry of its own.
func (a *Acquirer) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &clientTokenSource{ctx: ctx, acquirer: a}
}

func (s *clientTokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := s.acquirer.ClientToken(s.ctx)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}, nil
}
