// Package token describes the token records held by the cache: the raw
// payload returned by the OAuth token endpoint, its computed expiry, and the
// keys that partition the token space.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultLifetime is assumed when the token endpoint omits expires_in.
const DefaultLifetime = time.Hour

// ClientCredentialsKey is the cache key of the public API credential.
const ClientCredentialsKey = "client_credentials"

// DefaultUserID identifies the user when a caller does not name one.
const DefaultUserID = "default"

const userKeyPrefix = "user_"

// UserKey returns the cache key of the credential held for a user. An empty
// userID maps to DefaultUserID.
func UserKey(userID string) string {
	if userID == "" {
		userID = DefaultUserID
	}
	return userKeyPrefix + userID
}

// IsUserKey reports whether key partitions a per-user credential.
func IsUserKey(key string) bool {
	return strings.HasPrefix(key, userKeyPrefix)
}

// Payload is the JSON object returned by the token endpoint. It is kept
// verbatim so that fields this package does not know about survive a round
// trip through the cache and its persistence stores.
type Payload []byte

// ParsePayload validates that data is a JSON object carrying an access token.
func ParsePayload(data []byte) (Payload, error) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, errors.New("token payload is not valid JSON")
	}

	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return nil, errors.New("token payload is not a JSON object")
	}

	if parsed.Get("access_token").String() == "" {
		return nil, errors.New("token payload has no access_token")
	}

	return Payload(bytes.Clone(data)), nil
}

// Get returns the named top-level field of the payload.
func (p Payload) Get(field string) gjson.Result {
	return gjson.GetBytes(p, gjson.Escape(field))
}

func (p Payload) AccessToken() string {
	return p.Get("access_token").String()
}

func (p Payload) TokenType() string {
	return p.Get("token_type").String()
}

// RefreshToken is empty when the grant did not issue one.
func (p Payload) RefreshToken() string {
	return p.Get("refresh_token").String()
}

// ExpiresIn returns the lifetime declared by the token endpoint, and false
// when the field is absent or not numeric.
func (p Payload) ExpiresIn() (time.Duration, bool) {
	v := p.Get("expires_in")
	switch v.Type {
	case gjson.Number:
		return time.Duration(v.Float() * float64(time.Second)), true
	case gjson.String:
		n := gjson.Parse(v.Str)
		if n.Type == gjson.Number {
			return time.Duration(n.Float() * float64(time.Second)), true
		}
	}
	return 0, false
}

// Lifetime is ExpiresIn with the default applied.
func (p Payload) Lifetime() time.Duration {
	if d, ok := p.ExpiresIn(); ok {
		return d
	}
	return DefaultLifetime
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return errors.New("token.Payload: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// Record is a payload paired with the absolute time it stops being valid.
// Records are replaced wholesale and never mutated.
type Record struct {
	Payload   Payload
	ExpiresAt time.Time
}

// NewRecord computes the expiry of a payload acquired at the given time.
func NewRecord(payload Payload, acquiredAt time.Time) Record {
	return Record{
		Payload:   payload,
		ExpiresAt: acquiredAt.Add(payload.Lifetime()),
	}
}

// UsableAt reports whether the record is still valid once buffer has been
// subtracted from its expiry.
func (r Record) UsableAt(now time.Time, buffer time.Duration) bool {
	return r.ExpiresAt.After(now.Add(buffer))
}

// persistedRecord is the on-disk shape: {"data": ..., "expires_at": <epoch seconds>}.
type persistedRecord struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt *float64        `json:"expires_at"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Payload) == 0 {
		return nil, errors.New("token record has no payload")
	}
	seconds := float64(r.ExpiresAt.UnixNano()) / float64(time.Second)
	return json.Marshal(persistedRecord{
		Data:      json.RawMessage(r.Payload),
		ExpiresAt: &seconds,
	})
}

// UnmarshalJSON rejects documents that do not match the persisted shape, so
// that a schema mismatch is reported rather than producing a zero record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc persistedRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding token record: %w", err)
	}

	if doc.ExpiresAt == nil {
		return errors.New("token record has no expires_at")
	}
	if math.IsNaN(*doc.ExpiresAt) || math.IsInf(*doc.ExpiresAt, 0) {
		return errors.New("token record has an invalid expires_at")
	}

	payload, err := ParsePayload(doc.Data)
	if err != nil {
		return fmt.Errorf("token record data: %w", err)
	}

	whole, frac := math.Modf(*doc.ExpiresAt)
	r.Payload = payload
	r.ExpiresAt = time.Unix(int64(whole), int64(frac*float64(time.Second)))
	return nil
}
