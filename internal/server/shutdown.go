package server

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"
)

type hookDefinition struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks runs cleanup for long-lived resources (token caches, stores,
// telemetry) once the server has stopped accepting requests. Hooks run in the
// order they were added; a failing hook does not stop the ones after it.
type ShutdownHooks struct {
	hooks []hookDefinition
}

// AddContext registers a hook that receives the shutdown context, which may
// carry a deadline. Nil hooks are ignored with a warning logged.
func (s *ShutdownHooks) AddContext(name string, hook func(context.Context) error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}
	if s.hooks == nil {
		s.hooks = make([]hookDefinition, 0, 5)
	}

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hookDefinition{name: name, fn: hook})
}

// AddClose registers the Close method of closer, such as a token cache.
// Nil closers are ignored with a warning logged.
func (s *ShutdownHooks) AddClose(name string, closer io.Closer) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.AddContext(name, func(context.Context) error {
		return closer.Close()
	})
}

// Len is the number of registered hooks.
func (s *ShutdownHooks) Len() int {
	return len(s.hooks)
}

// Execute runs every hook with ctx. Each outcome is logged, and the failures
// are returned joined.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	l := log.Ctx(ctx)

	var errs []error
	for _, hook := range s.hooks {
		hookLog := l.With().Str("hook", hook.name).Logger()

		hookLog.Info().Msg("shutdown started")
		if err := hook.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown failed")
			errs = append(errs, err)
		} else {
			hookLog.Info().Msg("shutdown complete")
		}
	}

	return errors.Join(errs...)
}
