package cache

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/token"
)

// DefaultMaxSize bounds the number of records held in memory.
const DefaultMaxSize = 10_000

// Tokens is the TokenCache implementation: an otter-backed memory layer,
// optionally mirrored to a Store.
//
// A single mutex serializes every operation on an instance, so that a Get
// never observes a record that a concurrent Put has only partly written to
// memory and persistence. Store I/O happens inside the critical section;
// token endpoint calls never do (see oauth.Acquirer).
type Tokens struct {
	mu     sync.Mutex
	memory *otter.Cache[string, token.Record]
	store  Store
	buffer time.Duration
	now    func() time.Time
}

type tokensOptions struct {
	store   Store
	now     func() time.Time
	maxSize int
}

// Option configures a Tokens cache.
type Option func(*tokensOptions)

// WithStore mirrors records to the given store. A nil store keeps the cache
// memory-only.
func WithStore(store Store) Option {
	return func(o *tokensOptions) {
		o.store = store
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *tokensOptions) {
		o.now = now
	}
}

// WithMaxSize bounds the memory layer. Evicted records are reloaded from the
// store when one is configured.
func WithMaxSize(size int) Option {
	return func(o *tokensOptions) {
		o.maxSize = size
	}
}

// New creates a token cache that treats records expiring within buffer as
// absent.
func New(buffer time.Duration, opts ...Option) *Tokens {
	options := &tokensOptions{
		now:     time.Now,
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.maxSize <= 0 {
		options.maxSize = DefaultMaxSize
	}

	initMetrics()

	return &Tokens{
		memory: otter.Must(&otter.Options[string, token.Record]{
			MaximumSize: options.maxSize,
		}),
		store:  options.store,
		buffer: buffer,
		now:    options.now,
	}
}

// Get returns the payload for key if it stays valid for longer than the
// buffer. On a memory miss the store is consulted; unreadable or expired
// persisted records are treated as a miss.
func (t *Tokens) Get(ctx context.Context, key string) (token.Payload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if record, ok := t.memory.GetIfPresent(key); ok {
		if record.UsableAt(now, t.buffer) {
			return record.Payload, true
		}

		log.Debug().
			Str("key", key).
			Time("expiry", record.ExpiresAt).
			Msg("cached token inside expiry buffer")
	}

	if t.store == nil {
		return nil, false
	}

	record, found, err := t.store.Load(ctx, key)
	if err != nil {
		t.persistenceFailed(ctx, &PersistenceError{Op: "load", Key: key, Err: err})
		return nil, false
	}

	if !found || !record.UsableAt(now, t.buffer) {
		return nil, false
	}

	log.Debug().
		Str("key", key).
		Time("expiry", record.ExpiresAt).
		Msg("hydrated token from persistence")

	t.memory.Set(key, record)

	return record.Payload, true
}

// Put stores payload under key, replacing any existing record. A failure to
// persist is logged; the memory record is kept either way.
func (t *Tokens) Put(ctx context.Context, key string, payload token.Payload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := token.NewRecord(payload, t.now())

	t.memory.Set(key, record)

	log.Info().
		Str("key", key).
		Time("expiry", record.ExpiresAt).
		Bool("refreshable", payload.RefreshToken() != "").
		Msg("token cached")

	if t.store == nil {
		return
	}

	if err := t.store.Save(ctx, key, record); err != nil {
		t.persistenceFailed(ctx, &PersistenceError{Op: "save", Key: key, Err: err})
	}
}

// Invalidate removes key from memory and persistence. Removing a key that is
// not present is a no-op.
func (t *Tokens) Invalidate(ctx context.Context, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory.Invalidate(key)

	log.Info().Str("key", key).Msg("token invalidated")

	if t.store == nil {
		return
	}

	if err := t.store.Delete(ctx, key); err != nil {
		t.persistenceFailed(ctx, &PersistenceError{Op: "delete", Key: key, Err: err})
	}
}

// ClearAll empties memory and removes every persisted record.
func (t *Tokens) ClearAll(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory.InvalidateAll()

	log.Info().Msg("all cached tokens cleared")

	if t.store == nil {
		return
	}

	if err := t.store.DeleteAll(ctx); err != nil {
		t.persistenceFailed(ctx, &PersistenceError{Op: "clear", Err: err})
	}
}

// Close releases the store, if any.
func (t *Tokens) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}

func (t *Tokens) persistenceFailed(ctx context.Context, err *PersistenceError) {
	log.Warn().Err(err).Msg("token persistence failed; continuing with in-memory state")

	recordPersistenceFailure(ctx, err.Op)
}
