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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file.
const (
	EnvPort         = "RETROSPECTA_PORT"
	EnvStoreDriver  = "RETROSPECTA_STORE_DRIVER"
	EnvStorePath    = "RETROSPECTA_STORE_PATH"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// DefaultPath returns ~/.retrospecta/retrospecta.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".retrospecta", "retrospecta.yaml"), nil
}

// Load reads the config at path, creating it from DefaultConfig on first
// run. An empty path means DefaultPath. Missing keys keep their defaults.
func Load(path string) (RetrospectaConfig, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return RetrospectaConfig{}, err
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return RetrospectaConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RetrospectaConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RetrospectaConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return RetrospectaConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return RetrospectaConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *RetrospectaConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvStoreDriver); ok && v != "" {
		cfg.Store.Driver = v
	}
	if v, ok := lookup(EnvStorePath); ok && v != "" {
		cfg.Store.Path = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		// The OTLP convention is a URL; the gRPC exporter wants host:port.
		v = strings.TrimPrefix(strings.TrimPrefix(v, "https://"), "http://")
		cfg.Telemetry.OTLPEndpoint = strings.TrimRight(v, "/")
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
