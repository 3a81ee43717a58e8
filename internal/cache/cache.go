package cache

import (
	"context"
	"fmt"

	"github.com/shex1627/warcraftlogs/internal/token"
)

// TokenCache is an expiry-aware store of token payloads partitioned by key
// (see token.ClientCredentialsKey and token.UserKey). Persistence failures are
// absorbed by implementations: none of the operations report them to the
// caller, and the in-memory state remains authoritative.
type TokenCache interface {
	// Get returns the payload for key only when it remains valid beyond the
	// configured buffer. Records inside the buffer are reported as a miss.
	Get(ctx context.Context, key string) (token.Payload, bool)

	// Put replaces the record for key, computing its expiry from the payload.
	Put(ctx context.Context, key string, payload token.Payload)

	// Invalidate removes the record for key from memory and persistence.
	Invalidate(ctx context.Context, key string)

	// ClearAll removes every record from memory and persistence.
	ClearAll(ctx context.Context)

	// Close releases any resources held by the cache.
	Close() error
}

// Store mirrors token records outside the process. Implementations report a
// record that does not exist as (zero, false, nil), never as an error.
type Store interface {
	Load(ctx context.Context, key string) (token.Record, bool, error)
	Save(ctx context.Context, key string, record token.Record) error
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
	Close() error
}

// PersistenceError describes a failed Store operation. It is logged by the
// cache rather than returned.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("token persistence %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("token persistence %s failed for %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
