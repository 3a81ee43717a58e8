package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Credentials CredentialConfig
	TokenStore  TokenStoreConfig
	Observe     ObserveConfig
	Server      ServerConfig
}

type ServerConfig struct {
	// ListenHost is the interface the service binds to. Only loopback is
	// accepted unless QueryToken is set, as /query serves cached user sessions.
	ListenHost string `env:"SERVER_LISTEN_HOST, default=127.0.0.1"`

	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`

	// RedirectURI is the externally visible URL of the /callback route. It must
	// match the redirect URI registered with the OAuth client.
	RedirectURI string `env:"SERVER_REDIRECT_URI, default=http://localhost:8080/callback"`

	// QueryToken, when set, must be presented as a bearer token on /query.
	QueryToken string `env:"SERVER_QUERY_TOKEN"`
}

// ListenAddress is the host:port the service listens on.
func (c ServerConfig) ListenAddress() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

// Validate refuses a non-loopback listener that would let any caller run
// queries as a cached user.
func (c *ServerConfig) Validate() error {
	if c.QueryToken != "" || isLoopback(c.ListenHost) {
		return nil
	}

	return fmt.Errorf("SERVER_QUERY_TOKEN required when SERVER_LISTEN_HOST (%q) is not a loopback address", c.ListenHost)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// CredentialConfig holds the OAuth client registration and the API endpoints
// it is valid for. There is deliberately no default client secret: it must be
// supplied directly or through ClientSecretARN.
type CredentialConfig struct {
	ClientID        string `env:"WCL_CLIENT_ID, required"`
	ClientSecret    string `env:"WCL_CLIENT_SECRET"`
	ClientSecretARN string `env:"WCL_CLIENT_SECRET_ARN"`

	AuthorizeURI string `env:"WCL_AUTHORIZE_URI, default=https://www.warcraftlogs.com/oauth/authorize"`
	TokenURI     string `env:"WCL_TOKEN_URI, default=https://www.warcraftlogs.com/oauth/token"`
	ClientAPIURL string `env:"WCL_CLIENT_API_URL, default=https://www.warcraftlogs.com/api/v2/client"`
	UserAPIURL   string `env:"WCL_USER_API_URL, default=https://www.warcraftlogs.com/api/v2/user"`

	BufferSeconds      int `env:"WCL_TOKEN_BUFFER_SECS, default=300"`
	HTTPTimeoutSeconds int `env:"WCL_HTTP_TIMEOUT_SECS, default=30"`
}

// Buffer is the margin subtracted from a token's expiry before it is
// considered unusable.
func (c CredentialConfig) Buffer() time.Duration {
	return time.Duration(c.BufferSeconds) * time.Second
}

// HTTPTimeout bounds every outbound token and API request.
func (c CredentialConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// TokenStoreConfig selects where cached tokens are mirrored outside the
// process.
type TokenStoreConfig struct {
	// Type selects the persistence implementation: "none", "file" or
	// "valkey". When empty, "file" is used if Dir is set and "none" otherwise.
	Type string `env:"TOKEN_STORE_TYPE"`

	// Dir is the directory holding one JSON file per cached token.
	Dir string `env:"TOKEN_DIR"`

	// MaxSize bounds the number of records held in memory.
	MaxSize int `env:"TOKEN_CACHE_MAX_SIZE, default=10000"`

	Valkey ValkeyConfig
}

// ValkeyConfig specifies distributed token store configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	Username string `env:"VALKEY_USERNAME"`
	Password string `env:"VALKEY_PASSWORD"`

	// KeyPrefix namespaces token records so that several deployments can share
	// one Valkey instance.
	KeyPrefix string `env:"VALKEY_KEY_PREFIX, default=wcl:token:"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=warcraftlogs-auth"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Credentials.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid credential configuration: %w", err)
	}

	err = cfg.TokenStore.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid token store configuration: %w", err)
	}

	err = cfg.Server.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid server configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that exactly one source for the client secret is configured
// and that the numeric settings are usable.
func (c *CredentialConfig) Validate() error {
	if c.ClientSecret == "" && c.ClientSecretARN == "" {
		return errors.New("one of WCL_CLIENT_SECRET or WCL_CLIENT_SECRET_ARN is required")
	}

	if c.ClientSecret != "" && c.ClientSecretARN != "" {
		return errors.New("WCL_CLIENT_SECRET and WCL_CLIENT_SECRET_ARN are mutually exclusive")
	}

	if c.BufferSeconds < 0 {
		return fmt.Errorf("WCL_TOKEN_BUFFER_SECS must not be negative, got %d", c.BufferSeconds)
	}

	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("WCL_HTTP_TIMEOUT_SECS must be positive, got %d", c.HTTPTimeoutSeconds)
	}

	return nil
}

// StoreType resolves the effective persistence type.
func (c *TokenStoreConfig) StoreType() string {
	if c.Type != "" {
		return c.Type
	}
	if c.Dir != "" {
		return "file"
	}
	return "none"
}

// Validate checks that the token store configuration is valid.
func (c *TokenStoreConfig) Validate() error {
	switch c.StoreType() {
	case "none":
	case "file":
		if c.Dir == "" {
			return errors.New("TOKEN_DIR required when TOKEN_STORE_TYPE=file")
		}
	case "valkey":
		if c.Valkey.Address == "" {
			return errors.New("VALKEY_ADDRESS required when TOKEN_STORE_TYPE=valkey")
		}
	default:
		return fmt.Errorf("invalid TOKEN_STORE_TYPE %q: must be one of none, file, valkey", c.Type)
	}

	if c.MaxSize <= 0 {
		return fmt.Errorf("TOKEN_CACHE_MAX_SIZE must be positive, got %d", c.MaxSize)
	}

	return nil
}
