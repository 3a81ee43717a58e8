package wcl_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shex1627/warcraftlogs/internal/cache"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/shex1627/warcraftlogs/internal/graphql"
	"github.com/shex1627/warcraftlogs/internal/testhelpers"
	"github.com/shex1627/warcraftlogs/internal/token"
	"github.com/shex1627/warcraftlogs/internal/wcl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_QueriesThroughSharedCache(t *testing.T) {
	testhelpers.SetupLogger(t)

	oauthServer := testhelpers.SetupMockOAuthServer(t)
	apiServer := testhelpers.SetupMockGraphQLServer(t)

	cfg := config.Config{
		Credentials: testhelpers.CredentialConfig(oauthServer, apiServer),
		TokenStore:  config.TokenStoreConfig{Type: "none", MaxSize: 100},
	}

	client, err := wcl.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()

	_, err = client.Executor.Execute(ctx, graphql.Request{Query: "{ ok }"})
	require.NoError(t, err)

	accessToken, err := client.Acquirer.ClientToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, "access-token-1", accessToken)
	assert.Equal(t, 1, oauthServer.RequestCount(), "executor and acquirer share the cache")
}

func TestNew_FileStorePersistsAcrossClients(t *testing.T) {
	testhelpers.SetupLogger(t)

	oauthServer := testhelpers.SetupMockOAuthServer(t)
	dir := t.TempDir()

	cfg := config.Config{
		Credentials: testhelpers.CredentialConfig(oauthServer, nil),
		TokenStore:  config.TokenStoreConfig{Type: "file", Dir: dir, MaxSize: 100},
	}
	ctx := context.Background()

	first, err := wcl.New(ctx, cfg, nil)
	require.NoError(t, err)

	_, err = first.Acquirer.ClientToken(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	assert.FileExists(t, filepath.Join(dir, cache.FileName(token.ClientCredentialsKey)))

	second, err := wcl.New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	accessToken, err := second.Acquirer.ClientToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-token-1", accessToken)
	assert.Equal(t, 1, oauthServer.RequestCount())
}

func TestNew_InvalidStore(t *testing.T) {
	oauthServer := testhelpers.SetupMockOAuthServer(t)

	cfg := config.Config{
		Credentials: testhelpers.CredentialConfig(oauthServer, nil),
		TokenStore:  config.TokenStoreConfig{Type: "file", MaxSize: 100},
	}

	_, err := wcl.New(context.Background(), cfg, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "token cache configuration failed")
}
