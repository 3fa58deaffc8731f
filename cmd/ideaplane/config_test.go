// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "./data/checkpoints", cfg.Batch.CheckpointDir)
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "ollama", cfg.Backends[0].Kind)
	assert.Zero(t, cfg.AttemptTimeout())
	assert.Zero(t, cfg.MinInterval())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
backends:
  - id: primary
    kind: ollama
    base_url: http://llm-a:11434
    model: llama3.1:8b
  - id: fallback
    kind: openai
    model: gpt-4o-mini
    api_key_env: OPENAI_API_KEY
pipeline:
  attempt_timeout_seconds: 30
  min_interval_millis: 250
  dedup_threshold: 0.8
  corpus:
    - "Best yoga mats for beginners"
batch:
  checkpoint_dir: /var/lib/ideaplane
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "primary", cfg.Backends[0].ID)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Backends[1].APIKeyEnv)
	assert.Equal(t, 30*time.Second, cfg.AttemptTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.MinInterval())
	assert.Equal(t, 0.8, cfg.Pipeline.DedupThreshold)
	assert.Equal(t, []string{"Best yoga mats for beginners"}, cfg.Pipeline.Corpus)
	assert.Equal(t, "/var/lib/ideaplane", cfg.Batch.CheckpointDir)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("IDEAPLANE_ADDR", ":7070")
	t.Setenv("IDEAPLANE_CHECKPOINT_DIR", "/tmp/checkpoints")
	t.Setenv("OLLAMA_BASE_URL", "http://host.docker.internal:11434")

	path := writeConfig(t, `
backends:
  - id: local
    kind: ollama
    model: llama3.1:8b
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "/tmp/checkpoints", cfg.Batch.CheckpointDir)
	assert.Equal(t, "http://host.docker.internal:11434", cfg.Backends[0].BaseURL)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing backend id", "backends:\n  - kind: ollama\n"},
		{"duplicate backend id", "backends:\n  - id: a\n    kind: ollama\n  - id: a\n    kind: openai\n"},
		{"unknown kind", "backends:\n  - id: a\n    kind: carrier-pigeon\n"},
		{"threshold out of range", "pipeline:\n  dedup_threshold: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}
