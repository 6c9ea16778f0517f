// Package main is the entry point for the Portico BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/auth"
	"github.com/pitabwire/portico/internal/capability"
	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/contrib"
	"github.com/pitabwire/portico/internal/definition"
	"github.com/pitabwire/portico/internal/export"
	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/notify"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/internal/openapi"
	"github.com/pitabwire/portico/internal/role"
	"github.com/pitabwire/portico/internal/searcher"
	"github.com/pitabwire/portico/internal/settings"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "portico-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Backend client.
	client := graphql.NewClient(cfg.Backend,
		graphql.WithMetrics(metrics),
		graphql.WithLogger(logger),
	)

	// Step 5: Outcome publisher.
	publisher, err := notify.New(cfg.Notify, logger)
	if err != nil {
		logger.Error("notify initialization failed", zap.Error(err))
		return 1
	}
	defer publisher.Close()

	// Step 6: Mutation journal, tracker and submitter.
	journal, pool, err := buildJournal(ctx, cfg.Journal, logger)
	if err != nil {
		logger.Error("journal initialization failed", zap.Error(err))
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	tracker := mutation.NewTracker(client, cfg.Mutation,
		mutation.WithTrackerMetrics(metrics),
		mutation.WithTrackerLogger(logger),
	)
	submitter := mutation.NewSubmitter(client, tracker, journal,
		mutation.WithPublisher(publisher),
		mutation.WithSubmitterLogger(logger),
	)

	// Step 7: Searcher definitions and filter cache.
	defs, err := definition.LoadAndValidate(cfg.Searcher.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	registry := definition.NewRegistry(defs)
	metrics.SetSearchersLoaded(float64(registry.Len()))

	filterCache, err := searcher.NewFilterCache(cfg.Searcher.FilterCache, metrics)
	if err != nil {
		logger.Error("filter cache initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Per-subject state, identity and rights.
	stores := store.NewRegistry(cfg.Server.SessionIdleTimeout, nil)
	authSvc := auth.NewService(client, logger)
	rights := capability.NewResolver(authSvc, cfg.Capability.Cache.TTL, metrics)

	// Step 9: Domain services.
	catalog := role.NewCatalog(client, cfg.Permissions, metrics)
	roles := role.NewService(client, submitter, catalog, logger)
	exports := export.NewService(client)

	settingsRepo, err := settings.New(cfg.Settings, logger)
	if err != nil {
		logger.Error("settings initialization failed", zap.Error(err))
		return 1
	}
	if c, ok := settingsRepo.(interface{ Close() error }); ok {
		defer c.Close()
	}
	cancelWatch := settingsRepo.Watch(func(ch settings.Change) {
		logger.Debug("setting changed",
			zap.String("subject", ch.SubjectID),
			zap.String("key", ch.Key),
			zap.Bool("deleted", ch.Deleted),
		)
	})
	defer cancelWatch()

	// Step 10: Token verification.
	var jwks *transport.JWKSClient
	if cfg.Identity.JWKSURL != "" {
		jwks = transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)
	}
	keyFunc, err := transport.KeyFunc(cfg.Identity, jwks)
	if err != nil {
		logger.Error("identity initialization failed", zap.Error(err))
		return 1
	}

	// Step 11: Build HTTP router.
	contract, err := openapi.Load()
	if err != nil {
		logger.Error("contract load failed", zap.Error(err))
		return 1
	}

	extensions := contrib.NewRegistry()
	if jwks != nil {
		extensions.Contribute(contrib.KeyReadiness, jwks)
	}

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Len() > 0 },
		Backend:           client,
		JournalStore:      observability.HealthCheckFunc(journal.Ping),
		FilterCache:       observability.HealthCheckFunc(filterCache.Ping),
		Notifier:          observability.HealthCheckFunc(publisher.Ping),
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, keyFunc),
		Rights:       rights,
		Definitions:  registry,
		Backend:      client,
		FilterCache:  filterCache,
		Stores:       stores,
		Roles:        roles,
		Auth:         authSvc,
		Exports:      exports,
		Settings:     settingsRepo,
		Journal:      journal,
		Submitter:    submitter,
		Metrics:      metrics,
		Logger:       logger,
		Contrib:      extensions,
		Contract:     contract,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 12: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Searcher.HotReload {
		watcher, err := definition.NewWatcher(cfg.Searcher.Directories, registry, logger, metrics)
		if err != nil {
			logger.Error("definition watcher initialization failed", zap.Error(err))
			return 1
		}
		go func() {
			if err := watcher.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("definition watcher stopped", zap.Error(err))
			}
		}()
	}

	// Step 13: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", cfg.Backend.APIURL),
		zap.Int("searchers", registry.Len()),
		zap.Strings("contributions", extensions.Keys()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete", zap.Int("sessions", stores.Len()))
	return 0
}

// buildJournal creates the mutation journal selected by cfg.Driver. The pool
// is nil for the in-memory journal.
func buildJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (mutation.JournalStore, *pgxpool.Pool, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory mutation journal")
		return mutation.NewMemoryJournalStore(), nil, nil
	case "postgres":
		pool, err := mutation.OpenPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("journal: ping: %w", err)
		}
		js := mutation.NewPgJournalStore(pool)
		if err := js.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return js, pool, nil
	default:
		return nil, nil, fmt.Errorf("unsupported journal driver: %q", cfg.Driver)
	}
}
