// Package graphql sends queries to the Warcraft Logs GraphQL endpoints with a
// bearer token, recovering once from an expired token.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/cache"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/shex1627/warcraftlogs/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 32 << 20

// validationQuery is the cheapest query that exercises authentication.
const validationQuery = `query { worldData { expansions { id name } } }`

var (
	metricsOnce sync.Once
	requests    metric.Int64Counter
	retries     metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/shex1627/warcraftlogs/internal/graphql")

		var err error
		requests, err = meter.Int64Counter(
			"graphql.requests",
			metric.WithDescription("GraphQL requests dispatched, by scope and response status"),
		)
		if err != nil {
			otel.Handle(err)
		}

		retries, err = meter.Int64Counter(
			"graphql.retries",
			metric.WithDescription("GraphQL requests retried after a 401"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// TokenProvider supplies access tokens for each scope. *oauth.Acquirer
// implements it.
type TokenProvider interface {
	ClientToken(ctx context.Context) (string, error)
	UserToken(ctx context.Context, refreshToken, userID string) (string, error)
}

// Request is one GraphQL operation.
type Request struct {
	Query     string
	Variables map[string]any

	// Token, when set, is sent as-is instead of a cached token.
	Token string
	// RefreshToken obtains (and on a 401, renews) a user token. A user token
	// is used whenever RefreshToken is set, even when UserScope is false and
	// the request goes to the public endpoint.
	RefreshToken string
	// UserID partitions user tokens; empty means the default user.
	UserID string
	// UserScope sends the request to the user endpoint.
	UserScope bool
}

// Location is a position in the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is one entry of the response's errors array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Response is a successful (2xx) GraphQL response. Errors reported inside a
// 2xx response are returned here, not as a Go error.
type Response struct {
	Raw    json.RawMessage
	Data   json.RawMessage
	Errors []GraphQLError

	// Retried reports that the first attempt was rejected with a 401.
	Retried bool
}

// HTTPError is a non-2xx response from a GraphQL endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("graphql request failed: status %d: %s", e.Status, e.Body)
}

// ResponseStatus relays the upstream status.
func (e *HTTPError) ResponseStatus() (int, string) {
	return e.Status, http.StatusText(e.Status)
}

// Executor dispatches queries. It shares its token cache with the
// TokenProvider so that it can invalidate a token the API has rejected.
type Executor struct {
	cfg      config.CredentialConfig
	provider TokenProvider
	tokens   cache.TokenCache
	client   *http.Client
	timeout  time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the HTTP client used for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		e.client = client
	}
}

func New(cfg config.CredentialConfig, provider TokenProvider, tokens cache.TokenCache, opts ...Option) *Executor {
	initMetrics()

	e := &Executor{
		cfg:      cfg,
		provider: provider,
		tokens:   tokens,
		timeout:  cfg.HTTPTimeout(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		e.client = &http.Client{
			Transport: http.DefaultTransport,
			Timeout:   e.timeout,
		}
	}

	return e
}

// Execute runs req. A 401 is retried exactly once, after invalidating the
// cached token, when the scope has a way to obtain a new one: a refresh
// token, or client credentials for a public request that did not supply its
// own token. Any other non-2xx status, and a second 401, is returned as an
// *HTTPError.
func (e *Executor) Execute(ctx context.Context, req Request) (Response, error) {
	scope, endpoint := "public", e.cfg.ClientAPIURL
	if req.UserScope {
		scope, endpoint = "user", e.cfg.UserAPIURL
	}

	body, err := encodeRequest(req)
	if err != nil {
		return Response{}, err
	}

	accessToken, key, err := e.resolveToken(ctx, req, true)
	if err != nil {
		return Response{}, err
	}

	status, respBody, err := e.dispatch(ctx, scope, endpoint, accessToken, body)
	if err != nil {
		return Response{}, err
	}

	retried := false
	if status == http.StatusUnauthorized && canRenew(req) {
		retried = true

		// an explicit token may also be the cached one, so the key renewal
		// goes through is cleared whatever the first token's source
		key = renewalKey(req)

		log.Info().
			Str("scope", scope).
			Str("key", key).
			Msg("graphql request unauthorized; renewing token and retrying once")

		if retries != nil {
			retries.Add(ctx, 1, metric.WithAttributes(attribute.String("graphql.scope", scope)))
		}

		e.tokens.Invalidate(ctx, key)

		accessToken, _, err = e.resolveToken(ctx, req, false)
		if err != nil {
			return Response{}, err
		}

		status, respBody, err = e.dispatch(ctx, scope, endpoint, accessToken, body)
		if err != nil {
			return Response{}, err
		}
	}

	if status < 200 || status > 299 {
		return Response{}, &HTTPError{Status: status, Body: string(respBody)}
	}

	resp, err := decodeResponse(respBody)
	if err != nil {
		return Response{}, err
	}
	resp.Retried = retried

	return resp, nil
}

// ValidateToken reports whether accessToken is accepted by the public
// endpoint. Any failure, including a transport error, reports false.
func (e *Executor) ValidateToken(ctx context.Context, accessToken string) bool {
	resp, err := e.Execute(ctx, Request{Query: validationQuery, Token: accessToken})
	if err != nil {
		log.Debug().Err(err).Msg("token validation failed")
		return false
	}

	return len(resp.Data) > 0 && !bytes.Equal(bytes.TrimSpace(resp.Data), []byte("null"))
}

// canRenew reports whether a 401 for req can be recovered from.
func canRenew(req Request) bool {
	if req.RefreshToken != "" {
		return true
	}
	return req.Token == "" && !req.UserScope
}

// resolveToken picks the token for req and the cache key it came from. The
// key is empty for an explicit token. With allowExplicit false the explicit
// token is skipped, as it has just been rejected.
func (e *Executor) resolveToken(ctx context.Context, req Request, allowExplicit bool) (string, string, error) {
	if allowExplicit && req.Token != "" {
		return req.Token, "", nil
	}

	key := renewalKey(req)

	// Without a refresh token the provider can only serve a session token
	// already cached for the user, and reports NoCredentials otherwise.
	if token.IsUserKey(key) {
		accessToken, err := e.provider.UserToken(ctx, req.RefreshToken, req.UserID)
		return accessToken, key, err
	}

	accessToken, err := e.provider.ClientToken(ctx)
	return accessToken, key, err
}

// renewalKey is the cache key a new token for req is acquired under.
func renewalKey(req Request) string {
	if req.RefreshToken != "" || req.UserScope {
		return token.UserKey(req.UserID)
	}
	return token.ClientCredentialsKey
}

func (e *Executor) dispatch(ctx context.Context, scope, endpoint, accessToken string, body []byte) (int, []byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("creating graphql request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("graphql request to %s: %w", scope, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading graphql response: %w", err)
	}

	if requests != nil {
		requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("graphql.scope", scope),
			attribute.String("http.status_code", strconv.Itoa(resp.StatusCode)),
		))
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("graphql.scope", scope),
		attribute.Int("graphql.status", resp.StatusCode),
	)

	return resp.StatusCode, respBody, nil
}

func encodeRequest(req Request) ([]byte, error) {
	payload := struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables,omitempty"`
	}{
		Query:     req.Query,
		Variables: req.Variables,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding graphql request: %w", err)
	}
	return body, nil
}

func decodeResponse(body []byte) (Response, error) {
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []GraphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Response{}, fmt.Errorf("decoding graphql response: %w", err)
	}

	return Response{
		Raw:    json.RawMessage(body),
		Data:   envelope.Data,
		Errors: envelope.Errors,
	}, nil
}
