//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shex1627/warcraftlogs/internal/cache"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/shex1627/warcraftlogs/internal/server"
	"github.com/shex1627/warcraftlogs/internal/testhelpers"
	"github.com/shex1627/warcraftlogs/internal/wcl"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

// APITestHarness manages the complete test environment for API integration
// tests: mock OAuth and GraphQL servers and the service under test.
type APITestHarness struct {
	t           *testing.T
	Server      *httptest.Server
	OAuthMock   *testhelpers.MockOAuthServer
	GraphQLMock *testhelpers.MockGraphQLServer
	Config      config.Config
	valkeyStore config.TokenStoreConfig
}

// APITestHarnessOption configures the API test harness.
type APITestHarnessOption func(*config.Config)

// WithValkeyStore persists tokens to a Valkey container.
func WithValkeyStore(t *testing.T) APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.TokenStore = testhelpers.RunValkeyContainer(t)
	}
}

// WithFileStore persists tokens to a temporary directory.
func WithFileStore(t *testing.T) APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.TokenStore = config.TokenStoreConfig{Type: "file", Dir: t.TempDir(), MaxSize: 100}
	}
}

// NewAPITestHarness creates a complete test harness with all mock servers and
// the API server. Cleanup is handled automatically via t.Cleanup().
func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)
	hooks := server.ShutdownHooks{}

	t.Cleanup(func() {
		_ = hooks.Execute(context.Background())
	})

	harness := &APITestHarness{
		t:           t,
		OAuthMock:   testhelpers.SetupMockOAuthServer(t),
		GraphQLMock: testhelpers.SetupMockGraphQLServer(t),
	}

	cfg := config.Config{
		Credentials: testhelpers.CredentialConfig(harness.OAuthMock, harness.GraphQLMock),
		TokenStore:  config.TokenStoreConfig{Type: "none", MaxSize: 100},
		Observe: config.ObserveConfig{
			Enabled: false, // Disable observability for tests
		},
	}

	for _, opt := range options {
		opt(&cfg)
	}

	client, err := wcl.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	hooks.AddClose("token-cache", client)

	pending, err := cache.NewMemory[pendingAuthorization](time.Minute, 100)
	require.NoError(t, err)

	// the redirect URI is only known once the server has an address
	harness.Server = httptest.NewUnstartedServer(nil)
	cfg.Server.RedirectURI = "http://" + harness.Server.Listener.Addr().String() + "/callback"
	harness.Server.Config.Handler = configureServerRoutes(cfg, client, pending)
	harness.Server.Start()
	hooks.AddContext("api-server", func(context.Context) error {
		harness.Server.Close()
		return nil
	})

	harness.Config = cfg
	harness.valkeyStore = cfg.TokenStore

	return harness
}

// Client returns a client for the API server that does not follow redirects.
func (h *APITestHarness) Client() *TestClient {
	return &TestClient{
		baseURL: h.Server.URL,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// newTestValkeyClient returns a connected valkey client for direct Valkey
// access in tests. Skips the test if this harness does not use Valkey.
func (h *APITestHarness) newTestValkeyClient(t *testing.T) valkey.Client {
	t.Helper()

	if h.valkeyStore.Type != "valkey" {
		t.Skip("not a Valkey harness")
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{h.valkeyStore.Valkey.Address},
		Username:    h.valkeyStore.Valkey.Username,
		Password:    h.valkeyStore.Valkey.Password,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

// APIError represents a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       []byte
	Message    string // parsed from JSON error response if available
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// TestClient provides typed access to the service endpoints for testing.
type TestClient struct {
	baseURL string
	client  *http.Client
}

// Response wraps raw HTTP response for low-level assertions.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Request performs a low-level HTTP request and returns the raw response.
func (c *TestClient) Request(method, path string, body io.Reader) (*Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// Authorize starts an authorization for user and returns the provider URL
// the service redirected to.
func (c *TestClient) Authorize(user string) (*url.URL, error) {
	resp, err := c.Request(http.MethodGet, "/authorize?user="+url.QueryEscape(user), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusFound {
		return nil, c.parseError(resp)
	}

	return url.Parse(resp.Headers.Get("Location"))
}

// Callback completes an authorization as the provider would.
func (c *TestClient) Callback(code, state string) (*CallbackResponse, error) {
	query := url.Values{"code": {code}, "state": {state}}

	resp, err := c.Request(http.MethodGet, "/callback?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result CallbackResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("parse callback response: %w", err)
	}
	return &result, nil
}

// Query runs a GraphQL query through the service.
func (c *TestClient) Query(req QueryRequest) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.Request(http.MethodPost, "/query", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result map[string]any
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}
	return result, nil
}

func (c *TestClient) parseError(resp *Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}

	var errResp ErrorResponse
	if json.Unmarshal(resp.Body, &errResp) == nil {
		apiErr.Message = errResp.Error
	}

	return apiErr
}
