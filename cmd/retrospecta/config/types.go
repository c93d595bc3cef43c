// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/sergii-nosachenko/retrospecta/pkg/logging"
	"github.com/sergii-nosachenko/retrospecta/pkg/telemetry"
)

type RetrospectaConfig struct {
	// Server: journal HTTP listener
	Server ServerConfig `yaml:"server"`

	// Store: where decisions live
	Store StoreConfig `yaml:"store"`

	// Publisher: adaptive stream schedule
	Publisher PublisherConfig `yaml:"publisher"`

	// Analysis: background analysis worker
	Analysis AnalysisConfig `yaml:"analysis"`

	// Auth: static bearer tokens, empty means single-user local mode
	Auth AuthConfig `yaml:"auth"`

	// RateLimit: stream subscriptions per identity
	RateLimit RateLimitConfig `yaml:"ratelimit"`

	Telemetry telemetry.Config `yaml:"telemetry"`

	Logging LoggingConfig `yaml:"logging"`

	// Client: defaults for watch, decide and reanalyze
	Client ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`             // e.g. 127.0.0.1
	Port            int           `yaml:"port"`             // e.g. 12410
	GinMode         string        `yaml:"gin_mode"`         // debug | release | test
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // e.g. 10s
}

type StoreConfig struct {
	// Driver can be "memory", "badger" or "sqlite".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
}

type PublisherConfig struct {
	IdleInterval      time.Duration `yaml:"idle_interval"`
	ActiveInterval    time.Duration `yaml:"active_interval"`
	BusyInterval      time.Duration `yaml:"busy_interval"`
	BusyThreshold     int           `yaml:"busy_threshold"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
}

type AnalysisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type AuthConfig struct {
	// Tokens maps bearer token → user id.
	Tokens map[string]string `yaml:"tokens,omitempty"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"` // 0 disables
	Burst     int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

type ClientConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token,omitempty"`
	PageSize  int    `yaml:"page_size"`
}

// DefaultConfig returns a single-user local setup with an in-memory store.
func DefaultConfig() RetrospectaConfig {
	return RetrospectaConfig{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            12410,
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Publisher: PublisherConfig{
			IdleInterval:      10 * time.Second,
			ActiveInterval:    3 * time.Second,
			BusyInterval:      2 * time.Second,
			BusyThreshold:     5,
			KeepAliveInterval: 30 * time.Second,
		},
		Analysis: AnalysisConfig{
			Enabled:   true,
			Interval:  5 * time.Second,
			BatchSize: 10,
		},
		RateLimit: RateLimitConfig{
			PerSecond: 1,
			Burst:     5,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:12410",
			PageSize:  20,
		},
	}
}

// Validate checks ranges and enumerations.
func (c RetrospectaConfig) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.gin_mode %q is not debug, release or test", c.Server.GinMode))
	}
	switch c.Store.Driver {
	case "memory":
	case "badger", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not memory, badger or sqlite", c.Store.Driver))
	}

	p := c.Publisher
	if p.IdleInterval <= 0 || p.ActiveInterval <= 0 || p.BusyInterval <= 0 || p.KeepAliveInterval <= 0 {
		errs = append(errs, errors.New("publisher intervals must be positive"))
	}
	if p.BusyThreshold < 1 {
		errs = append(errs, errors.New("publisher.busy_threshold must be at least 1"))
	}
	if c.Analysis.Enabled && (c.Analysis.Interval <= 0 || c.Analysis.BatchSize < 1) {
		errs = append(errs, errors.New("analysis.interval and analysis.batch_size must be positive"))
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}
	for token, user := range c.Auth.Tokens {
		if token == "" || user == "" {
			errs = append(errs, errors.New("auth.tokens entries must be non-empty"))
			break
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Client.PageSize < 1 || c.Client.PageSize > 100 {
		errs = append(errs, fmt.Errorf("client.page_size %d out of range 1..100", c.Client.PageSize))
	}
	return errors.Join(errs...)
}
