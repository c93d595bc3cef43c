// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_Valid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *RetrospectaConfig)
		wantErr string
	}{
		{"port zero", func(c *RetrospectaConfig) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *RetrospectaConfig) { c.Server.Port = 70000 }, "server.port"},
		{"gin mode", func(c *RetrospectaConfig) { c.Server.GinMode = "loud" }, "gin_mode"},
		{"unknown driver", func(c *RetrospectaConfig) { c.Store.Driver = "postgres" }, "store.driver"},
		{"sqlite without path", func(c *RetrospectaConfig) { c.Store.Driver = "sqlite" }, "store.path"},
		{"interval", func(c *RetrospectaConfig) { c.Publisher.BusyInterval = 0 }, "publisher intervals"},
		{"threshold", func(c *RetrospectaConfig) { c.Publisher.BusyThreshold = 0 }, "busy_threshold"},
		{"analysis batch", func(c *RetrospectaConfig) { c.Analysis.BatchSize = 0 }, "analysis"},
		{"rate", func(c *RetrospectaConfig) { c.RateLimit.PerSecond = -1 }, "ratelimit"},
		{"empty token", func(c *RetrospectaConfig) { c.Auth.Tokens = map[string]string{"": "bob"} }, "auth.tokens"},
		{"log level", func(c *RetrospectaConfig) { c.Logging.Level = "chatty" }, "logging.level"},
		{"page size", func(c *RetrospectaConfig) { c.Client.PageSize = 500 }, "client.page_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidate_DisabledAnalysisSkipsChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analysis.Enabled = false
	cfg.Analysis.BatchSize = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Store.Driver = "nope"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "server.port")
	assert.ErrorContains(t, err, "store.driver")
}
