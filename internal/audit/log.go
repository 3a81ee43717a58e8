// Package audit writes one structured log entry per service request,
// recording who asked for what and how it ended. Token values are never part
// of an entry.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/rs/zerolog"
)

// Level is the level audit entries are logged at. It sits above the standard
// levels so entries are written whatever the configured level.
const Level = zerolog.Level(20)

type contextKey struct{}

// Entry is the audit record for a request. Handlers fill in the session and
// token fields through Log.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	UserID string
	Scope  string

	TokenKey        string
	Grant           string
	HasRefreshToken bool
	Retried         bool

	Error string
}

// MarshalZerologObject nests the fields into request, session and token
// dictionaries. Session and token are omitted when none of their fields are
// set.
func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	NewOptionalEvent(nil).
		Str("userID", e.UserID).
		Str("scope", e.Scope).
		Set(ev, "session")

	tokenEvent := NewOptionalEvent(nil).
		Str("key", e.TokenKey).
		Str("grant", e.Grant)
	if e.HasRefreshToken {
		tokenEvent.Bool("hasRefreshToken", true)
	}
	if e.Retried {
		tokenEvent.Bool("retried", true)
	}
	tokenEvent.Set(ev, "token")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin records the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	} else {
		e.SourceIP = r.RemoteAddr
	}
}

// End returns a function, to be deferred, that writes the entry. A panic in
// progress is recorded in the entry and then re-raised.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")

		if r != nil {
			panic(r)
		}
	}
}

// Context returns the entry carried by ctx, adding a new one when there is
// none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{}
	return context.WithValue(ctx, contextKey{}, entry), entry
}

// Log returns the entry for the request. Outside the middleware the entry is
// detached and never written.
func Log(ctx context.Context) *Entry {
	_, entry := Context(ctx)
	return entry
}

// Middleware writes an audit entry for every request passing through it.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			defer entry.End(ctx)()

			entry.Begin(r)

			metrics := httpsnoop.CaptureMetrics(next, w, r.WithContext(ctx))
			entry.Status = metrics.Code
		})
	}
}
