// Package oauth obtains access tokens from the OAuth token endpoint: client
// credentials for the public API, refresh-token grants for user scope, and
// the authorization-code exchange (with or without PKCE) that starts a user
// session.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/cache"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/shex1627/warcraftlogs/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	grantClientCredentials = "client_credentials"
	grantRefreshToken      = "refresh_token"
	grantAuthorizationCode = "authorization_code"

	// maxTokenResponseBytes bounds how much of a token response is read.
	maxTokenResponseBytes = 1 << 20
)

var (
	metricsOnce      sync.Once
	acquisitions     metric.Int64Counter
	acquisitionTimes metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/shex1627/warcraftlogs/internal/oauth")

		var err error
		acquisitions, err = meter.Int64Counter(
			"oauth.token.acquisitions",
			metric.WithDescription("Token endpoint requests by grant type and outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}

		acquisitionTimes, err = meter.Float64Histogram(
			"oauth.token.request.duration",
			metric.WithDescription("Token endpoint request duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// AuthorizationState is what a caller must keep between building an
// authorization URL and handling the callback. It is session state: the
// verifier must stay with the caller and is never cached or logged here.
type AuthorizationState struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RedirectURI  string `json:"redirect_uri"`
}

// Acquirer obtains tokens on cache misses and stores them in the cache. It
// holds no token state of its own, so any number of acquirers may share a
// cache.
type Acquirer struct {
	cfg     config.CredentialConfig
	tokens  cache.TokenCache
	client  *http.Client
	timeout time.Duration

	flights singleflight.Group
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithHTTPClient replaces the HTTP client used for token requests. The
// configured timeout still applies to each request.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Acquirer) {
		a.client = client
	}
}

// New creates an acquirer for the client registration in cfg.
func New(cfg config.CredentialConfig, tokens cache.TokenCache, opts ...Option) *Acquirer {
	initMetrics()

	a := &Acquirer{
		cfg:     cfg,
		tokens:  tokens,
		timeout: cfg.HTTPTimeout(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		a.client = &http.Client{
			Transport: http.DefaultTransport,
			Timeout:   a.timeout,
		}
	}

	return a
}

// ClientToken returns a client-credentials access token for the public API,
// from the cache when a usable one is held.
func (a *Acquirer) ClientToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {grantClientCredentials},
	}

	payload, err := a.cachedOrAcquire(ctx, token.ClientCredentialsKey, grantClientCredentials, form)
	if err != nil {
		return "", err
	}

	return payload.AccessToken(), nil
}

// UserToken returns an access token for userID's scope, obtained with the
// given refresh token on a cache miss. Without a refresh token only a cached
// token (for example one stored by HandleCallback) can be returned.
func (a *Acquirer) UserToken(ctx context.Context, refreshToken, userID string) (string, error) {
	if refreshToken == "" {
		if payload, found := a.tokens.Get(ctx, token.UserKey(userID)); found {
			return payload.AccessToken(), nil
		}
		return "", &AuthError{Kind: NoCredentials, Err: errors.New("no cached user token and refresh token is empty")}
	}

	form := url.Values{
		"grant_type":    {grantRefreshToken},
		"refresh_token": {refreshToken},
	}

	payload, err := a.cachedOrAcquire(ctx, token.UserKey(userID), grantRefreshToken, form)
	if err != nil {
		return "", err
	}

	return payload.AccessToken(), nil
}

// cachedOrAcquire serves key from the cache, or runs a single token request
// for it. Concurrent misses for the same key wait for the request already in
// flight rather than issuing their own.
func (a *Acquirer) cachedOrAcquire(ctx context.Context, key, grant string, form url.Values) (token.Payload, error) {
	if payload, found := a.tokens.Get(ctx, key); found {
		return payload, nil
	}

	results := a.flights.DoChan(key, func() (any, error) {
		// Detached so that one caller giving up does not fail the others
		// waiting on this flight; the request timeout still applies.
		flightCtx := context.WithoutCancel(ctx)

		// a flight that finished after the check above has already
		// stored a token
		if payload, found := a.tokens.Get(flightCtx, key); found {
			return payload, nil
		}

		payload, err := a.requestToken(flightCtx, grant, form, true)
		if err != nil {
			return nil, err
		}

		a.tokens.Put(flightCtx, key, payload)

		log.Info().
			Str("key", key).
			Str("grant", grant).
			Dur("lifetime", payload.Lifetime()).
			Msg("token acquired")

		return payload, nil
	})

	select {
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(token.Payload), nil

	case <-ctx.Done():
		return nil, &AuthError{Kind: TransportFailed, Err: ctx.Err()}
	}
}

// AuthorizationURL builds the URL a user visits to grant access. A random
// state is generated when state is empty. With usePKCE the returned state
// carries the code verifier that ExchangeCode will need.
func (a *Acquirer) AuthorizationURL(redirectURI, state string, usePKCE bool) (string, AuthorizationState, error) {
	if state == "" {
		var err error
		state, err = NewState()
		if err != nil {
			return "", AuthorizationState{}, err
		}
	}

	authState := AuthorizationState{
		State:       state,
		RedirectURI: redirectURI,
	}

	var opts []oauth2.AuthCodeOption
	if usePKCE {
		verifier, err := NewVerifier()
		if err != nil {
			return "", AuthorizationState{}, err
		}
		authState.CodeVerifier = verifier
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	return a.oauth2Config(redirectURI).AuthCodeURL(state, opts...), authState, nil
}

// ExchangeCode trades an authorization code for a token payload. With a
// verifier the request is made as a public client: client_id and
// code_verifier in the form and no client secret. Without one the client
// authenticates with HTTP Basic auth.
//
// The payload is returned without being cached; see HandleCallback.
func (a *Acquirer) ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (token.Payload, error) {
	form := url.Values{
		"grant_type":   {grantAuthorizationCode},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}

	basicAuth := true
	if verifier != "" {
		form.Set("client_id", a.cfg.ClientID)
		form.Set("code_verifier", verifier)
		basicAuth = false
	}

	return a.requestToken(ctx, grantAuthorizationCode, form, basicAuth)
}

// HandleCallback completes the authorization-code flow for userID. The
// resulting token is cached under the user's key only when it carries a
// refresh token, since without one the session cannot be renewed.
func (a *Acquirer) HandleCallback(ctx context.Context, code, redirectURI, verifier, userID string) (token.Payload, error) {
	payload, err := a.ExchangeCode(ctx, code, redirectURI, verifier)
	if err != nil {
		return nil, err
	}

	key := token.UserKey(userID)
	if payload.RefreshToken() == "" {
		log.Info().Str("key", key).Msg("authorization granted without refresh token; not cached")
		return payload, nil
	}

	a.tokens.Put(ctx, key, payload)

	return payload, nil
}

// ClearTokens removes every cached token.
func (a *Acquirer) ClearTokens(ctx context.Context) {
	a.tokens.ClearAll(ctx)
}

func (a *Acquirer) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: a.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.cfg.AuthorizeURI,
			TokenURL: a.cfg.TokenURI,
		},
		RedirectURL: redirectURI,
	}
}

func (a *Acquirer) requestToken(ctx context.Context, grant string, form url.Values, basicAuth bool) (payload token.Payload, err error) {
	start := time.Now()
	defer func() {
		a.record(ctx, grant, err, time.Since(start))
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	if basicAuth {
		req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &AuthError{Kind: TransportFailed, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, &AuthError{Kind: TransportFailed, Status: 0, Err: fmt.Errorf("reading token response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().
			Str("grant", grant).
			Int("status", resp.StatusCode).
			Msg("token endpoint rejected request")

		return nil, &AuthError{Kind: TokenRequestFailed, Status: resp.StatusCode, Body: string(body)}
	}

	payload, err = token.ParsePayload(body)
	if err != nil {
		return nil, &AuthError{Kind: TokenRequestFailed, Err: fmt.Errorf("decoding token response: %w", err)}
	}

	return payload, nil
}

func (a *Acquirer) record(ctx context.Context, grant string, err error, duration time.Duration) {
	outcome := "success"
	var authErr *AuthError
	if errors.As(err, &authErr) {
		outcome = strings.ReplaceAll(authErr.Kind.String(), " ", "_")
	} else if err != nil {
		outcome = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String("oauth.grant_type", grant),
		attribute.String("oauth.outcome", outcome),
	)

	if acquisitions != nil {
		acquisitions.Add(ctx, 1, attrs)
	}
	if acquisitionTimes != nil {
		acquisitionTimes.Record(ctx, duration.Seconds(), attrs)
	}
}
