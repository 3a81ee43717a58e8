package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/shex1627/warcraftlogs/internal/token"
)

const (
	// tokenFileExtension marks files owned by the store; DeleteAll only removes
	// files carrying it.
	tokenFileExtension = ".json"

	lockFileName = ".lock"

	// encodedKeyPrefix starts the file name of keys that are not plain. It is
	// outside the plain key alphabet.
	encodedKeyPrefix = "~"

	lockTimeout      = 5 * time.Second
	lockPollInterval = 50 * time.Millisecond
)

// FileStore persists one JSON document per key in a directory. The directory
// is created on first write. Writes go through a temporary file and a rename,
// so concurrent readers see either the old or the new document. Writers in
// other processes sharing the directory are excluded with a lock file.
type FileStore struct {
	dir string

	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string {
	return s.dir
}

// FileName maps a cache key to the name of its file. Keys made only of
// [A-Za-z0-9_.-] that do not start with a dot are used as they are. Any other
// key is written as encodedKeyPrefix followed by its unpadded base64url
// encoding, so distinct keys never share a file and no key can escape the
// directory or name the lock file.
func FileName(key string) string {
	if isPlainKey(key) {
		return key + tokenFileExtension
	}

	return encodedKeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(key)) + tokenFileExtension
}

func isPlainKey(key string) bool {
	if key == "" || key[0] == '.' {
		return false
	}

	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '.':
		default:
			return false
		}
	}

	return true
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, FileName(key))
}

func (s *FileStore) Load(_ context.Context, key string) (token.Record, bool, error) {
	path := s.path(key)

	// #nosec G304 -- path is derived from a sanitized cache key
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return token.Record{}, false, nil
	}
	if err != nil {
		return token.Record{}, false, fmt.Errorf("reading token file: %w", err)
	}

	var record token.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return token.Record{}, false, fmt.Errorf("token file %s: %w", path, err)
	}

	return record, true, nil
}

func (s *FileStore) Save(ctx context.Context, key string, record token.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}

	return s.locked(ctx, true, func() error {
		tmp, err := os.CreateTemp(s.dir, "."+FileName(key)+".*.tmp")
		if err != nil {
			return fmt.Errorf("creating temporary token file: %w", err)
		}
		tmpName := tmp.Name()

		_, err = tmp.Write(data)
		if closeErr := tmp.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("writing temporary token file: %w", err)
		}

		// CreateTemp already uses 0600; be explicit as the file holds secrets.
		if err := os.Chmod(tmpName, 0o600); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("restricting token file permissions: %w", err)
		}

		if err := os.Rename(tmpName, s.path(key)); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("replacing token file: %w", err)
		}

		return nil
	})
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.locked(ctx, false, func() error {
		err := os.Remove(s.path(key))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing token file: %w", err)
		}
		return nil
	})
}

// DeleteAll removes every token file in the directory. Files that are not
// named like token files are left alone.
func (s *FileStore) DeleteAll(ctx context.Context) error {
	return s.locked(ctx, false, func() error {
		matches, err := filepath.Glob(filepath.Join(s.dir, "*"+tokenFileExtension))
		if err != nil {
			return fmt.Errorf("listing token files: %w", err)
		}

		var errs []error
		for _, match := range matches {
			if err := os.Remove(match); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})
}

func (s *FileStore) Close() error {
	return nil
}

// locked runs fn while holding the directory lock. When create is false and
// the directory does not exist there is nothing to modify, so fn is skipped.
func (s *FileStore) locked(ctx context.Context, create bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if create {
		if err := os.MkdirAll(s.dir, 0o700); err != nil {
			return fmt.Errorf("creating token directory: %w", err)
		}
	} else if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(lockCtx, lockPollInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire token directory lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire token directory lock: timeout after %v", lockTimeout)
	}
	defer s.lock.Unlock()

	return fn()
}
