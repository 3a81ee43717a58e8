package cache

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/valkey-io/valkey-go"
)

// NewStoreFromConfig creates the persistence store selected by the
// configuration. A nil store (with a nil error) means the cache is
// memory-only.
//
// The store type must be one of "none", "file" or "valkey"; any other value
// returns an error.
func NewStoreFromConfig(storeConfig config.TokenStoreConfig) (Store, error) {
	switch storeConfig.StoreType() {
	case "none":
		log.Info().
			Str("store_type", "none").
			Msg("token persistence disabled; tokens are held in memory only")

		return nil, nil

	case "file":
		if storeConfig.Dir == "" {
			return nil, fmt.Errorf("token directory is required when store type is file")
		}

		log.Info().
			Str("store_type", "file").
			Str("dir", storeConfig.Dir).
			Msg("initializing file token store")

		return NewFileStore(storeConfig.Dir), nil

	case "valkey":
		log.Info().
			Str("store_type", "valkey").
			Str("address", storeConfig.Valkey.Address).
			Bool("tls", storeConfig.Valkey.TLS).
			Msg("initializing distributed token store")

		if storeConfig.Valkey.Address == "" {
			return nil, fmt.Errorf("valkey address is required when store type is valkey")
		}

		valkeyOpts := valkey.ClientOption{
			InitAddress: []string{storeConfig.Valkey.Address},
			Username:    storeConfig.Valkey.Username,
			Password:    storeConfig.Valkey.Password,
			// Token reads must see invalidations from other instances
			// immediately, so server-assisted client caching stays off.
			DisableCache: true,
		}

		if storeConfig.Valkey.TLS {
			valkeyOpts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey client: %w", err)
		}

		return NewValkeyStore(valkeyClient, storeConfig.Valkey.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("invalid token store type %q: must be one of \"none\", \"file\" or \"valkey\"", storeConfig.Type)
	}
}

// NewFromConfig creates an instrumented token cache backed by the configured
// store. Tokens expiring within buffer are treated as absent.
func NewFromConfig(storeConfig config.TokenStoreConfig, buffer time.Duration, opts ...Option) (TokenCache, error) {
	store, err := NewStoreFromConfig(storeConfig)
	if err != nil {
		return nil, err
	}

	options := append([]Option{
		WithStore(store),
		WithMaxSize(storeConfig.MaxSize),
	}, opts...)

	return NewInstrumented(New(buffer, options...), storeConfig.StoreType()), nil
}
