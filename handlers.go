package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/audit"
	"github.com/shex1627/warcraftlogs/internal/graphql"
	"github.com/shex1627/warcraftlogs/internal/oauth"
	"github.com/shex1627/warcraftlogs/internal/token"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	ResponseStatus() (int, string)
}

// Authorizer runs the two halves of the authorization-code flow.
type Authorizer interface {
	AuthorizationURL(redirectURI, state string, usePKCE bool) (string, oauth.AuthorizationState, error)
	HandleCallback(ctx context.Context, code, redirectURI, verifier, userID string) (token.Payload, error)
}

// QueryRunner executes GraphQL requests.
type QueryRunner interface {
	Execute(ctx context.Context, req graphql.Request) (graphql.Response, error)
}

// PendingAuthorizations holds authorization requests between the redirect to
// the provider and the callback. Take must remove the entry so that a state
// can only be used once.
type PendingAuthorizations interface {
	Set(ctx context.Context, key string, value pendingAuthorization)
	Take(ctx context.Context, key string) (pendingAuthorization, bool)
}

// pendingAuthorization is the session state for one authorization request.
// It holds the PKCE verifier, so it lives only in process memory.
type pendingAuthorization struct {
	Auth   oauth.AuthorizationState
	UserID string
}

// CallbackResponse describes the grant obtained by the callback. Token values
// are never echoed back.
type CallbackResponse struct {
	UserID          string `json:"user_id"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in"`
	HasRefreshToken bool   `json:"has_refresh_token"`
}

// QueryRequest is the body accepted by POST /query.
type QueryRequest struct {
	Query        string         `json:"query"`
	Variables    map[string]any `json:"variables,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
}

func handleAuthorize(authorizer Authorizer, pending PendingAuthorizations, redirectURI string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		userID := r.URL.Query().Get("user")
		if userID == "" {
			userID = token.DefaultUserID
		}

		authURL, state, err := authorizer.AuthorizationURL(redirectURI, "", true)
		if err != nil {
			log.Info().Err(err).Msg("authorization URL creation failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		entry := audit.Log(r.Context())
		entry.UserID = userID
		entry.Scope = "user"

		pending.Set(r.Context(), state.State, pendingAuthorization{
			Auth:   state,
			UserID: userID,
		})

		log.Info().Str("user", userID).Msg("authorization started")

		http.Redirect(w, r, authURL, http.StatusFound)
	})
}

func handleCallback(authorizer Authorizer, pending PendingAuthorizations) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		query := r.URL.Query()

		// a denied or failed authorization still consumes the state
		state := query.Get("state")
		session, found := pending.Take(r.Context(), state)

		entry := audit.Log(r.Context())
		entry.Scope = "user"
		entry.Grant = "authorization_code"
		entry.UserID = session.UserID

		if providerErr := query.Get("error"); providerErr != "" {
			log.Info().
				Str("error", providerErr).
				Str("description", query.Get("error_description")).
				Msg("authorization refused by provider")
			entry.Error = "provider error: " + providerErr
			writeJSONError(w, http.StatusBadRequest, "authorization failed: "+providerErr)
			return
		}

		if state == "" || !found {
			log.Info().Msg("callback with unknown or expired state")
			writeJSONError(w, http.StatusBadRequest, "unknown or expired state")
			return
		}

		code := query.Get("code")
		if code == "" {
			writeJSONError(w, http.StatusBadRequest, "missing authorization code")
			return
		}

		payload, err := authorizer.HandleCallback(
			r.Context(),
			code,
			session.Auth.RedirectURI,
			session.Auth.CodeVerifier,
			session.UserID,
		)
		if err != nil {
			status, message := errorStatus(err)
			entry.Error = err.Error()
			log.Info().Err(err).Str("user", session.UserID).Msg("authorization code exchange failed")
			writeJSONError(w, status, message)
			return
		}

		entry.HasRefreshToken = payload.RefreshToken() != ""
		if entry.HasRefreshToken {
			entry.TokenKey = token.UserKey(session.UserID)
		}

		response := CallbackResponse{
			UserID:          session.UserID,
			TokenType:       payload.TokenType(),
			ExpiresIn:       int64(payload.Lifetime().Seconds()),
			HasRefreshToken: payload.RefreshToken() != "",
		}

		writeJSON(w, http.StatusOK, response)
	})
}

func handlePostQuery(runner QueryRunner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var body QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				requestError(w, http.StatusRequestEntityTooLarge)
				return
			}
			log.Info().Err(err).Msg("invalid query request body")
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if body.Query == "" {
			writeJSONError(w, http.StatusBadRequest, "query is required")
			return
		}

		req := graphql.Request{
			Query:        body.Query,
			Variables:    body.Variables,
			UserID:       body.UserID,
			RefreshToken: body.RefreshToken,
			UserScope:    body.UserID != "" || body.RefreshToken != "",
		}

		entry := audit.Log(r.Context())
		entry.Scope = "public"
		entry.TokenKey = token.ClientCredentialsKey
		if req.UserScope {
			entry.Scope = "user"
			entry.UserID = req.UserID
			entry.TokenKey = token.UserKey(req.UserID)
		}

		resp, err := runner.Execute(r.Context(), req)
		if err != nil {
			entry.Error = err.Error()
			status, message := errorStatus(err)
			log.Info().Err(err).Int("status", status).Msg("query failed")
			writeJSONError(w, status, message)
			return
		}

		entry.Retried = resp.Retried

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(resp.Raw); err != nil {
			// record failure to log: trying to respond to the client at this
			// point will likely fail
			log.Info().Err(err).Msg("failed to write response")
		}
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// requireBearerToken rejects requests that do not present expected as a
// bearer token. An empty expected token lets every request through; the
// listener is then restricted to loopback by configuration.
func requireBearerToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
				drainRequestBody(r)
				audit.Log(r.Context()).Error = "query token rejected"
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	marshalled, err := json.Marshal(payload)
	if err != nil {
		requestError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(marshalled); err != nil {
		log.Info().Err(err).Msg("failed to write response")
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.ResponseStatus()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5MB max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
