package config

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WCL_CLIENT_ID", "client-id")
	t.Setenv("WCL_CLIENT_SECRET", "client-secret")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "client-id", cfg.Credentials.ClientID)
	assert.Equal(t, "https://www.warcraftlogs.com/oauth/token", cfg.Credentials.TokenURI)
	assert.Equal(t, "https://www.warcraftlogs.com/oauth/authorize", cfg.Credentials.AuthorizeURI)
	assert.Equal(t, "https://www.warcraftlogs.com/api/v2/client", cfg.Credentials.ClientAPIURL)
	assert.Equal(t, "https://www.warcraftlogs.com/api/v2/user", cfg.Credentials.UserAPIURL)
	assert.Equal(t, 300, cfg.Credentials.BufferSeconds)
	assert.Equal(t, 30, cfg.Credentials.HTTPTimeoutSeconds)
	assert.Equal(t, "none", cfg.TokenStore.StoreType())
	assert.Equal(t, 10_000, cfg.TokenStore.MaxSize)
	assert.True(t, cfg.TokenStore.Valkey.TLS)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.ListenAddress())
	assert.Empty(t, cfg.Server.QueryToken)
}

func TestLoad_RequiresClientID(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"WCL_CLIENT_SECRET": "secret",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WCL_CLIENT_ID")
}

func TestLoad_TokenDirImpliesFileStore(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"WCL_CLIENT_ID":     "id",
		"WCL_CLIENT_SECRET": "secret",
		"TOKEN_DIR":         "/tmp/tokens",
	}))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.TokenStore.StoreType())
}

func TestCredentialConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     CredentialConfig
		wantErr string
	}{
		{
			name: "secret supplied",
			cfg:  CredentialConfig{ClientSecret: "s", HTTPTimeoutSeconds: 1},
		},
		{
			name: "secret ARN supplied",
			cfg:  CredentialConfig{ClientSecretARN: "arn:aws:secretsmanager:x", HTTPTimeoutSeconds: 1},
		},
		{
			name:    "no secret source",
			cfg:     CredentialConfig{HTTPTimeoutSeconds: 1},
			wantErr: "one of WCL_CLIENT_SECRET or WCL_CLIENT_SECRET_ARN is required",
		},
		{
			name:    "both secret sources",
			cfg:     CredentialConfig{ClientSecret: "s", ClientSecretARN: "arn", HTTPTimeoutSeconds: 1},
			wantErr: "mutually exclusive",
		},
		{
			name:    "negative buffer",
			cfg:     CredentialConfig{ClientSecret: "s", BufferSeconds: -1, HTTPTimeoutSeconds: 1},
			wantErr: "WCL_TOKEN_BUFFER_SECS",
		},
		{
			name:    "zero timeout",
			cfg:     CredentialConfig{ClientSecret: "s"},
			wantErr: "WCL_HTTP_TIMEOUT_SECS",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestTokenStoreConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     TokenStoreConfig
		wantErr string
	}{
		{name: "memory only", cfg: TokenStoreConfig{MaxSize: 1}},
		{name: "file with dir", cfg: TokenStoreConfig{Type: "file", Dir: "/tmp/x", MaxSize: 1}},
		{name: "file without dir", cfg: TokenStoreConfig{Type: "file", MaxSize: 1}, wantErr: "TOKEN_DIR"},
		{name: "valkey without address", cfg: TokenStoreConfig{Type: "valkey", MaxSize: 1}, wantErr: "VALKEY_ADDRESS"},
		{name: "valkey with address", cfg: TokenStoreConfig{Type: "valkey", MaxSize: 1, Valkey: ValkeyConfig{Address: "localhost:6379"}}},
		{name: "unknown type", cfg: TokenStoreConfig{Type: "s3", MaxSize: 1}, wantErr: "invalid TOKEN_STORE_TYPE"},
		{name: "zero size", cfg: TokenStoreConfig{}, wantErr: "TOKEN_CACHE_MAX_SIZE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestServerConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{name: "ipv4 loopback", cfg: ServerConfig{ListenHost: "127.0.0.1"}},
		{name: "ipv6 loopback", cfg: ServerConfig{ListenHost: "::1"}},
		{name: "localhost", cfg: ServerConfig{ListenHost: "localhost"}},
		{name: "all interfaces without token", cfg: ServerConfig{ListenHost: "0.0.0.0"}, wantErr: "SERVER_QUERY_TOKEN"},
		{name: "empty host without token", cfg: ServerConfig{ListenHost: ""}, wantErr: "SERVER_QUERY_TOKEN"},
		{name: "all interfaces with token", cfg: ServerConfig{ListenHost: "0.0.0.0", QueryToken: "s3cret"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_RejectsExposedListenerWithoutToken(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"WCL_CLIENT_ID":      "id",
		"WCL_CLIENT_SECRET":  "secret",
		"SERVER_LISTEN_HOST": "0.0.0.0",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server configuration")
}

func TestServerConfig_ListenAddress(t *testing.T) {
	assert.Equal(t, "[::1]:9000", ServerConfig{ListenHost: "::1", Port: 9000}.ListenAddress())
}
