// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal assembles the decision journal service.
//
// # Description
//
// New wires a decision store, the adaptive stream publisher, the analysis
// worker, Prometheus metrics and the gin router into a Service. Run serves
// HTTP until its context is cancelled, then shuts down gracefully: open
// decision streams are ended first so http.Server.Shutdown can drain.
//
// # Examples
//
//	svc, err := journal.New(journal.Config{StoreDriver: journal.DriverBadger, StorePath: dir}, nil)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sergii-nosachenko/retrospecta/pkg/extensions"
	"github.com/sergii-nosachenko/retrospecta/services/journal/analysis"
	"github.com/sergii-nosachenko/retrospecta/services/journal/middleware"
	"github.com/sergii-nosachenko/retrospecta/services/journal/observability"
	"github.com/sergii-nosachenko/retrospecta/services/journal/publisher"
	"github.com/sergii-nosachenko/retrospecta/services/journal/routes"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store/badgerstore"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store/memory"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store/sqlitestore"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is a runnable journal server.
//
// # Assumptions
//
//   - Run or Serve is called at most once per Service instance
type Service interface {
	// Run listens on the configured address and serves until ctx is
	// cancelled. Returns nil after a graceful shutdown.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the gin engine with all routes registered.
	Router() *gin.Engine

	// Store returns the decision store.
	Store() store.Store

	// Close releases the store. Run and Serve call it on return.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds journal service configuration. Zero values use defaults.
type Config struct {
	// Host is the listen host. Default: all interfaces.
	Host string

	// Port is the HTTP port. Default: 12410
	Port int

	// GinMode is "debug", "release" or "test". Default: "release"
	GinMode string

	// StoreDriver is "memory", "badger" or "sqlite". Default: "memory"
	StoreDriver string

	// StorePath is the badger directory or sqlite file. Required for
	// persistent drivers.
	StorePath string

	// Publisher tunes the adaptive stream schedule. Clock, Logger and
	// Metrics are filled in by New.
	Publisher publisher.Config

	// AnalysisEnabled starts the background analysis worker.
	AnalysisEnabled bool

	// Analysis tunes the worker.
	Analysis analysis.Config

	// Analyzer defaults to analysis.NewKeywordAnalyzer().
	Analyzer analysis.Analyzer

	// RateLimit bounds stream subscriptions per identity. PerSecond zero
	// disables it.
	RateLimit middleware.RateLimitConfig

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// Version is reported by /health.
	Version string

	// Registerer receives the service collectors.
	// Default: prometheus.DefaultRegisterer
	Registerer prometheus.Registerer

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	// Clock drives timers and timestamps. Default: clock.WallClock
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12410
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = analysis.NewKeywordAnalyzer()
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config    Config
	opts      extensions.ServiceOptions
	store     store.Store
	metrics   *observability.Metrics
	publisher *publisher.Publisher
	worker    *analysis.Worker
	router    *gin.Engine
}

// New creates a journal Service.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension points. Nil uses extensions.DefaultOptions().
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if the store cannot be opened.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = opts.WithDefaults()
	} else {
		s.opts = extensions.DefaultOptions()
	}

	st, err := openStore(s.config)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", s.config.StoreDriver, err)
	}
	s.store = st
	s.metrics = observability.NewMetrics(s.config.Registerer)

	pubCfg := s.config.Publisher
	pubCfg.Clock = s.config.Clock
	pubCfg.Logger = s.config.Logger
	pubCfg.Metrics = s.metrics
	s.publisher = publisher.New(s.store, pubCfg)

	if s.config.AnalysisEnabled {
		workerCfg := s.config.Analysis
		workerCfg.Clock = s.config.Clock
		workerCfg.Logger = s.config.Logger
		workerCfg.Metrics = s.metrics
		s.worker = analysis.NewWorker(s.store, s.config.Analyzer, workerCfg)
	}

	s.initRouter()
	return s, nil
}

func openStore(cfg Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case DriverMemory:
		return memory.New(cfg.Clock), nil
	case DriverBadger:
		bcfg := badgerstore.DefaultConfig(cfg.StorePath)
		bcfg.Logger = cfg.Logger
		bcfg.Clock = cfg.Clock
		return badgerstore.Open(bcfg)
	case DriverSQLite:
		return sqlitestore.Open(cfg.StorePath, cfg.Clock)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("retrospecta-journal"))

	var limiter *middleware.IdentityLimiter
	if s.config.RateLimit.PerSecond > 0 {
		limiter = middleware.NewIdentityLimiter(s.config.RateLimit)
	}

	routes.SetupRoutes(s.router, routes.Dependencies{
		Store:     s.store,
		Publisher: s.publisher,
		Options:   s.opts,
		Limiter:   limiter,
		Metrics:   s.metrics,
		Gatherer:  s.config.Gatherer,
		Clock:     s.config.Clock,
		Version:   s.config.Version,
	})
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Store() store.Store {
	return s.store
}

func (s *service) Close() error {
	return s.store.Close()
}

func (s *service) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the worker and the HTTP server until ctx is cancelled.
//
// # Description
//
// Request contexts derive from an internal base context that is cancelled
// when shutdown begins, which ends every open decision stream. Shutdown
// then waits up to ShutdownTimeout for handlers to return.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer func() {
		if err := s.Close(); err != nil {
			s.config.Logger.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			return fmt.Errorf("start analysis worker: %w", err)
		}
		defer func() { _ = s.worker.Stop() }()
	}

	errCh := make(chan error, 1)
	go func() {
		s.config.Logger.Info("journal server listening",
			slog.String("addr", ln.Addr().String()),
			slog.String("store_driver", s.config.StoreDriver))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.config.Logger.Info("journal server shutting down")
	cancelStreams()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

var _ Service = (*service)(nil)
