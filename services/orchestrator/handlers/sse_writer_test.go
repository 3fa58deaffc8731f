// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideaplane/ideaplane/services/planner"
)

// parseFrames splits an SSE body into its decoded data frames, skipping
// comments.
func parseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, unit := range strings.Split(body, "\n\n") {
		unit = strings.TrimSpace(unit)
		if unit == "" || strings.HasPrefix(unit, ":") {
			continue
		}
		require.True(t, strings.HasPrefix(unit, "data: "), "unexpected frame %q", unit)
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(unit, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestStreamWriterProgressFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteProgress(planner.ProgressEvent{
		Type:       planner.EventProgress,
		Step:       2,
		TotalSteps: 4,
		Progress:   25,
		Message:    "Running gap_analysis",
	}))

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "progress", frames[0]["type"])
	assert.Equal(t, float64(2), frames[0]["step"])
	assert.Equal(t, float64(4), frames[0]["totalSteps"])
	assert.Equal(t, float64(25), frames[0]["progress"])
	assert.Equal(t, "Running gap_analysis", frames[0]["message"])
}

func TestStreamWriterCompleteFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec)
	require.NoError(t, err)

	plan := &planner.PipelineRun{
		ID:     "run-1",
		Status: planner.RunStatusCompleted,
		Candidates: []planner.CandidateItem{
			{Title: "Electric car charging networks in 2025"},
		},
	}
	require.NoError(t, w.WriteComplete(plan))

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "complete", frames[0]["type"])
	assert.Equal(t, true, frames[0]["success"])
	assert.Equal(t, float64(1), frames[0]["count"])
	assert.NotNil(t, frames[0]["plan"])
}

func TestStreamWriterErrorFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteErrorFrame("run aborted"))

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "run aborted", frames[0]["message"])
}

func TestStreamWriterKeepAliveIsComment(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteKeepAlive())
	assert.Equal(t, ": ping\n\n", rec.Body.String())
	assert.Empty(t, parseFrames(t, rec.Body.String()))
}

// noFlushWriter is a ResponseWriter without http.Flusher support.
type noFlushWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (w *noFlushWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *noFlushWriter) Write(p []byte) (int, error) { return w.body.Write(p) }

func (w *noFlushWriter) WriteHeader(code int) { w.status = code }

func TestNewStreamWriterRequiresFlusher(t *testing.T) {
	w := &noFlushWriter{}
	_, err := NewStreamWriter(w)
	require.Error(t, err)

	// The rejection must leave the response untouched so the handler can
	// still send a plain JSON error.
	assert.Empty(t, w.Header().Get("Content-Type"))
	assert.Zero(t, w.body.Len())
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
