package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shex1627/warcraftlogs/internal/config"
)

const (
	TestClientID     = "test-client-id"
	TestClientSecret = "test-client-secret"
)

// TokenRequest is a request received by MockOAuthServer.
type TokenRequest struct {
	Form          url.Values
	BasicUser     string
	BasicPassword string
	HasBasicAuth  bool
}

// MockOAuthServer provides a configurable mock OAuth token endpoint for
// testing. Each successful response carries a distinct access token,
// "access-token-<n>", where n counts requests from 1.
type MockOAuthServer struct {
	Server *httptest.Server

	mu           sync.Mutex
	expiresIn    int
	refreshToken string
	statusCode   int
	body         string
	delay        time.Duration
	requests     []TokenRequest
}

// SetupMockOAuthServer creates a mock OAuth server handling /oauth/token.
// Cleanup is registered with t.Cleanup().
func SetupMockOAuthServer(t *testing.T) *MockOAuthServer {
	t.Helper()

	mock := &MockOAuthServer{
		expiresIn:  3600,
		statusCode: http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user, password, hasBasic := r.BasicAuth()

		mock.mu.Lock()
		mock.requests = append(mock.requests, TokenRequest{
			Form:          r.PostForm,
			BasicUser:     user,
			BasicPassword: password,
			HasBasicAuth:  hasBasic,
		})
		n := len(mock.requests)
		status := mock.statusCode
		body := mock.body
		delay := mock.delay
		expiresIn := mock.expiresIn
		refreshToken := mock.refreshToken
		mock.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
			return
		}

		if body != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, body)
			return
		}

		response := map[string]any{
			"access_token": fmt.Sprintf("access-token-%d", n),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		}
		if refreshToken != "" {
			response["refresh_token"] = refreshToken
		}

		WriteJSON(w, response)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Close)

	return mock
}

// TokenURL is the token endpoint of the mock.
func (m *MockOAuthServer) TokenURL() string {
	return m.Server.URL + "/oauth/token"
}

// AuthorizeURL is the authorization endpoint of the mock. It is not served;
// authorization URLs are only built against it.
func (m *MockOAuthServer) AuthorizeURL() string {
	return m.Server.URL + "/oauth/authorize"
}

// SetExpiresIn sets the expires_in returned with each token.
func (m *MockOAuthServer) SetExpiresIn(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiresIn = seconds
}

// SetRefreshToken makes responses carry the given refresh token.
func (m *MockOAuthServer) SetRefreshToken(refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = refreshToken
}

// SetResponse overrides the response status and body. A 200 status with a
// non-empty body returns the body verbatim.
func (m *MockOAuthServer) SetResponse(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCode = status
	m.body = body
}

// SetDelay makes each response wait before being written.
func (m *MockOAuthServer) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// RequestCount is the number of token requests received.
func (m *MockOAuthServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the token requests received.
func (m *MockOAuthServer) Requests() []TokenRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TokenRequest(nil), m.requests...)
}

// LastRequest returns the most recent token request, if any.
func (m *MockOAuthServer) LastRequest() (TokenRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return TokenRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// Close shuts down the mock server.
func (m *MockOAuthServer) Close() {
	m.Server.Close()
}

// GraphQLRequest is a request received by MockGraphQLServer.
type GraphQLRequest struct {
	Path          string
	Authorization string
	ContentType   string
	Body          map[string]any
}

// MockGraphQLServer provides a mock of the client and user GraphQL
// endpoints. Responses are taken from a queue of statuses; once the queue is
// empty every request succeeds with ResponseBody.
type MockGraphQLServer struct {
	Server *httptest.Server

	mu           sync.Mutex
	statuses     []int
	responseBody string
	requests     []GraphQLRequest
}

// SetupMockGraphQLServer creates a mock serving /api/v2/client and
// /api/v2/user. Cleanup is registered with t.Cleanup().
func SetupMockGraphQLServer(t *testing.T) *MockGraphQLServer {
	t.Helper()

	mock := &MockGraphQLServer{
		responseBody: `{"data":{"ok":true}}`,
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		mock.mu.Lock()
		mock.requests = append(mock.requests, GraphQLRequest{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			Body:          body,
		})
		status := http.StatusOK
		if len(mock.statuses) > 0 {
			status = mock.statuses[0]
			mock.statuses = mock.statuses[1:]
		}
		responseBody := mock.responseBody
		mock.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"error":"status %d"}`, status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, responseBody)
	}

	router := http.NewServeMux()
	router.HandleFunc("POST /api/v2/client", handler)
	router.HandleFunc("POST /api/v2/user", handler)

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Close)

	return mock
}

// ClientURL is the public GraphQL endpoint of the mock.
func (m *MockGraphQLServer) ClientURL() string {
	return m.Server.URL + "/api/v2/client"
}

// UserURL is the user GraphQL endpoint of the mock.
func (m *MockGraphQLServer) UserURL() string {
	return m.Server.URL + "/api/v2/user"
}

// QueueStatuses makes the next requests answer with the given statuses, in
// order.
func (m *MockGraphQLServer) QueueStatuses(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statuses...)
}

// SetResponseBody sets the body of successful responses.
func (m *MockGraphQLServer) SetResponseBody(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseBody = body
}

// Requests returns a copy of the requests received.
func (m *MockGraphQLServer) Requests() []GraphQLRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GraphQLRequest(nil), m.requests...)
}

// RequestCount is the number of requests received.
func (m *MockGraphQLServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Close shuts down the mock server.
func (m *MockGraphQLServer) Close() {
	m.Server.Close()
}

// CredentialConfig returns a configuration pointing every endpoint at the
// given mocks. The GraphQL mock may be nil.
func CredentialConfig(oauth *MockOAuthServer, api *MockGraphQLServer) config.CredentialConfig {
	cfg := config.CredentialConfig{
		ClientID:           TestClientID,
		ClientSecret:       TestClientSecret,
		AuthorizeURI:       oauth.AuthorizeURL(),
		TokenURI:           oauth.TokenURL(),
		BufferSeconds:      300,
		HTTPTimeoutSeconds: 5,
	}

	if api != nil {
		cfg.ClientAPIURL = api.ClientURL()
		cfg.UserAPIURL = api.UserURL()
	}

	return cfg
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
