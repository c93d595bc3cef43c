// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sergii-nosachenko/retrospecta/cmd/retrospecta/config"
	"github.com/sergii-nosachenko/retrospecta/pkg/extensions"
	"github.com/sergii-nosachenko/retrospecta/pkg/telemetry"
	"github.com/sergii-nosachenko/retrospecta/services/journal"
	"github.com/sergii-nosachenko/retrospecta/services/journal/analysis"
	"github.com/sergii-nosachenko/retrospecta/services/journal/middleware"
	"github.com/sergii-nosachenko/retrospecta/services/journal/publisher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the journal server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger("journal")
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telCfg := cfg.Telemetry
	telCfg.ServiceVersion = version
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	opts, err := serviceOptions(cfg, log)
	if err != nil {
		return err
	}
	svc, err := journal.New(journalConfig(cfg, log), &opts)
	if err != nil {
		return err
	}

	log.Info("starting journal",
		slog.String("version", version),
		slog.String("store_driver", cfg.Store.Driver),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("auth", len(cfg.Auth.Tokens) > 0))
	return svc.Run(ctx)
}

// journalConfig maps the file configuration onto the service.
func journalConfig(c config.RetrospectaConfig, log *slog.Logger) journal.Config {
	return journal.Config{
		Host:        c.Server.Host,
		Port:        c.Server.Port,
		GinMode:     c.Server.GinMode,
		StoreDriver: c.Store.Driver,
		StorePath:   c.Store.Path,
		Publisher: publisher.Config{
			IdleInterval:      c.Publisher.IdleInterval,
			ActiveInterval:    c.Publisher.ActiveInterval,
			BusyInterval:      c.Publisher.BusyInterval,
			BusyThreshold:     c.Publisher.BusyThreshold,
			KeepAliveInterval: c.Publisher.KeepAliveInterval,
		},
		AnalysisEnabled: c.Analysis.Enabled,
		Analysis: analysis.Config{
			Interval:  c.Analysis.Interval,
			BatchSize: c.Analysis.BatchSize,
		},
		RateLimit: middleware.RateLimitConfig{
			PerSecond: c.RateLimit.PerSecond,
			Burst:     c.RateLimit.Burst,
		},
		ShutdownTimeout: c.Server.ShutdownTimeout,
		Version:         version,
		Logger:          log,
	}
}

// serviceOptions selects static token auth when tokens are configured and
// single-user local mode otherwise. Mutations are always audited to log.
func serviceOptions(c config.RetrospectaConfig, log *slog.Logger) (extensions.ServiceOptions, error) {
	opts := extensions.DefaultOptions().WithAudit(&extensions.SlogAuditLogger{Logger: log})
	if len(c.Auth.Tokens) == 0 {
		return opts, nil
	}
	provider, err := extensions.NewStaticTokenProvider(c.Auth.Tokens)
	if err != nil {
		return extensions.ServiceOptions{}, fmt.Errorf("auth.tokens: %w", err)
	}
	return opts.WithAuth(provider), nil
}
