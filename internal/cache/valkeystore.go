package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shex1627/warcraftlogs/internal/token"
	"github.com/valkey-io/valkey-go"
)

const scanBatchSize = 100

// ValkeyStore persists token records in Valkey, using the same JSON document
// as FileStore. Entries expire in Valkey when the token itself expires, so
// stale records do not accumulate.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	now    func() time.Time
}

// NewValkeyStore creates a store that namespaces its keys with prefix.
func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	return &ValkeyStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (v *ValkeyStore) storageKey(key string) string {
	return v.prefix + key
}

func (v *ValkeyStore) Load(ctx context.Context, key string) (token.Record, bool, error) {
	cmd := v.client.B().Get().Key(v.storageKey(key)).Build()
	result := v.client.Do(ctx, cmd)

	if err := result.Error(); err != nil {
		// Key not found is not an error in our semantics
		if valkey.IsValkeyNil(err) {
			return token.Record{}, false, nil
		}
		return token.Record{}, false, fmt.Errorf("failed to get stored token: %w", err)
	}

	val, err := result.ToString()
	if err != nil {
		return token.Record{}, false, fmt.Errorf("failed to convert stored token to string: %w", err)
	}

	var record token.Record
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		// Best-effort removal of the unreadable entry.
		_ = v.client.Do(ctx, v.client.B().Del().Key(v.storageKey(key)).Build()).Error()

		return token.Record{}, false, fmt.Errorf("stored token %q: %w", key, err)
	}

	return record, true, nil
}

// Save stores the record with a TTL matching its remaining lifetime. Records
// that have already expired are removed instead.
func (v *ValkeyStore) Save(ctx context.Context, key string, record token.Record) error {
	remaining := record.ExpiresAt.Sub(v.now())
	if remaining <= 0 {
		return v.Delete(ctx, key)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	seconds := int64(math.Ceil(remaining.Seconds()))

	cmd := v.client.B().Set().Key(v.storageKey(key)).Value(string(data)).ExSeconds(seconds).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (v *ValkeyStore) Delete(ctx context.Context, key string) error {
	cmd := v.client.B().Del().Key(v.storageKey(key)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete stored token: %w", err)
	}
	return nil
}

// DeleteAll scans for every key under the store's prefix and deletes it.
func (v *ValkeyStore) DeleteAll(ctx context.Context) error {
	var cursor uint64
	var errs []error

	for {
		scan := v.client.B().Scan().Cursor(cursor).Match(v.prefix + "*").Count(scanBatchSize).Build()
		entry, err := v.client.Do(ctx, scan).AsScanEntry()
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("failed to scan stored tokens: %w", err))...)
		}

		if len(entry.Elements) > 0 {
			del := v.client.B().Del().Key(entry.Elements...).Build()
			if err := v.client.Do(ctx, del).Error(); err != nil {
				errs = append(errs, fmt.Errorf("failed to delete stored tokens: %w", err))
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	return errors.Join(errs...)
}

// Close releases the Valkey client.
func (v *ValkeyStore) Close() error {
	v.client.Close()
	return nil
}
