// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "retrospecta.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
	assert.FileExists(t, path)

	// The written file round-trips to the same config.
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Publisher, again.Publisher)
	assert.Equal(t, cfg.Telemetry.MetricExporter, again.Telemetry.MetricExporter)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrospecta.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
store:
  driver: sqlite
  path: /tmp/retrospecta.db
publisher:
  idle_interval: 15s
auth:
  tokens:
    tok-1: alice
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 15*time.Second, cfg.Publisher.IdleInterval)
	assert.Equal(t, 3*time.Second, cfg.Publisher.ActiveInterval)
	assert.Equal(t, map[string]string{"tok-1": "alice"}, cfg.Auth.Tokens)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrospecta.yaml")
	t.Setenv(EnvPort, "13000")
	t.Setenv(EnvStoreDriver, "badger")
	t.Setenv(EnvStorePath, "/var/lib/retrospecta")
	t.Setenv(EnvOTLPEndpoint, "http://collector:4317/")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 13000, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/retrospecta", cfg.Store.Path)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_BadEnvPort(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")
	_, err := Load(filepath.Join(t.TempDir(), "retrospecta.yaml"))
	assert.ErrorContains(t, err, EnvPort)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrospecta.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not, a, map"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrospecta.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: badger\n"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "store.path is required")
}
