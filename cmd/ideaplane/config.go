// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig describes one generation backend in chain order.
type BackendConfig struct {
	// ID is the unique backend identifier used for pacing and logging.
	ID string `yaml:"id"`

	// Kind selects the client implementation: "ollama" or "openai".
	Kind string `yaml:"kind"`

	// BaseURL is the backend endpoint (ollama only).
	BaseURL string `yaml:"base_url"`

	// Model is the model name passed to the backend.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key
	// (openai only). The key itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env"`
}

// Config is the full server configuration, loaded from YAML with
// environment overrides for deployment-specific values.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`

	Backends []BackendConfig `yaml:"backends"`

	Pipeline struct {
		AttemptTimeoutSeconds int      `yaml:"attempt_timeout_seconds"`
		MinIntervalMillis     int      `yaml:"min_interval_millis"`
		DedupThreshold        float64  `yaml:"dedup_threshold"`
		EventBuffer           int      `yaml:"event_buffer"`
		Corpus                []string `yaml:"corpus"`
	} `yaml:"pipeline"`

	Batch struct {
		CheckpointDir string `yaml:"checkpoint_dir"`
	} `yaml:"batch"`

	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
}

// LoadConfig reads the YAML file at path (optional), then applies defaults
// and environment overrides.
//
// Environment overrides:
//
//	IDEAPLANE_ADDR            server listen address
//	IDEAPLANE_LOG_LEVEL       debug|info|warn|error
//	IDEAPLANE_CHECKPOINT_DIR  batch checkpoint directory
//	IDEAPLANE_OTLP_ENDPOINT   OTLP gRPC collector endpoint
//	OLLAMA_BASE_URL           base URL for ollama backends without one
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IDEAPLANE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("IDEAPLANE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IDEAPLANE_CHECKPOINT_DIR"); v != "" {
		cfg.Batch.CheckpointDir = v
	}
	if v := os.Getenv("IDEAPLANE_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		for i := range cfg.Backends {
			if cfg.Backends[i].Kind == "ollama" && cfg.Backends[i].BaseURL == "" {
				cfg.Backends[i].BaseURL = v
			}
		}
	}
	if v := os.Getenv("IDEAPLANE_EVENT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.EventBuffer = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Batch.CheckpointDir == "" {
		cfg.Batch.CheckpointDir = "./data/checkpoints"
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = []BackendConfig{{
			ID:      "ollama",
			Kind:    "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1:8b",
		}}
	}
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend missing id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
		switch b.Kind {
		case "ollama", "openai":
		default:
			return fmt.Errorf("backend %q: unknown kind %q", b.ID, b.Kind)
		}
	}
	if cfg.Pipeline.DedupThreshold < 0 || cfg.Pipeline.DedupThreshold > 1 {
		return fmt.Errorf("dedup_threshold must be in [0,1], got %v", cfg.Pipeline.DedupThreshold)
	}
	return nil
}

// AttemptTimeout returns the per-attempt budget, zero for the default.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Pipeline.AttemptTimeoutSeconds) * time.Second
}

// MinInterval returns the per-backend pacing interval, zero for the default.
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Pipeline.MinIntervalMillis) * time.Millisecond
}
