// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LevelError.String() != "ERROR" {
		t.Error("unexpected level names")
	}
	if Level(99).String() != "UNKNOWN" {
		t.Error("out-of-range level should be UNKNOWN")
	}
}

func TestDefaultLoggerNeverNil(t *testing.T) {
	logger := Default()
	if logger == nil || logger.Logger == nil {
		t.Fatal("Default() returned nil logger")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	logger.Info("hello", "run_id", "run-1")
	logger.Debug("filtered out")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	name := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["service"] != "testsvc" {
		t.Errorf("service = %v, want testsvc", entry["service"])
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", entry["run_id"])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	logger, err := New(Config{LogDir: t.TempDir(), Quiet: true})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}
