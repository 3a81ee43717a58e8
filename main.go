package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/audit"
	"github.com/shex1627/warcraftlogs/internal/cache"
	"github.com/shex1627/warcraftlogs/internal/config"
	"github.com/shex1627/warcraftlogs/internal/observe"
	"github.com/shex1627/warcraftlogs/internal/server"
	"github.com/shex1627/warcraftlogs/internal/wcl"
)

// pendingAuthorizationTTL bounds how long a user has to complete the
// provider's consent screen.
const pendingAuthorizationTTL = 10 * time.Minute

func configureServerRoutes(cfg config.Config, client *wcl.Client, pending PendingAuthorizations) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Queries are the largest bodies accepted.
	requestLimitBytes := int64(64 << 10) // 64 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	auditedRouteMiddleware := alice.New(requestLimiter, audit.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("GET /authorize", auditedRouteMiddleware.Then(handleAuthorize(client.Acquirer, pending, cfg.Server.RedirectURI)))
	mux.Handle("GET /callback", auditedRouteMiddleware.Then(handleCallback(client.Acquirer, pending)))
	queryRouteMiddleware := auditedRouteMiddleware.Append(requireBearerToken(cfg.Server.QueryToken))
	mux.Handle("POST /query", queryRouteMiddleware.Then(handlePostQuery(client.Executor)))

	// healthchecks are not included in telemetry or auditing
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	client, err := wcl.New(ctx, cfg, nil)
	if err != nil {
		return err
	}

	pending, err := cache.NewMemory[pendingAuthorization](pendingAuthorizationTTL, 10_000)
	if err != nil {
		return fmt.Errorf("authorization state cache configuration failed: %w", err)
	}

	handler := configureServerRoutes(cfg, client, pending)

	hooks := &server.ShutdownHooks{}
	hooks.AddClose("token-cache", client)
	hooks.AddContext("telemetry", shutdownTelemetry)

	// start the server
	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	listener, err := net.Listen("tcp", cfg.Server.ListenAddress())
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	if cfg.Server.QueryToken == "" {
		log.Info().Msg("query route open to loopback callers without a token")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second

	err = server.Serve(ctx, srv, listener, shutdownTimeout, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
