// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ideaplane/ideaplane/services/planner"
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamWriter defines the contract for writing progress frames to an SSE
// response.
//
// # Description
//
// Every frame is a self-describing unit of the form "data: {json}\n\n",
// independently parseable by the client; clients ignore frames with an
// unrecognized type. Exactly one terminal frame (complete or error) is
// written per stream, and the connection closes immediately after it.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the relay goroutine and
// the keepalive ticker both write.
type StreamWriter interface {
	// WriteProgress writes one non-terminal progress frame.
	WriteProgress(ev planner.ProgressEvent) error

	// WriteComplete writes the terminal success frame carrying the plan and
	// its candidate count.
	WriteComplete(plan *planner.PipelineRun) error

	// WriteErrorFrame writes the terminal failure frame. The message must be
	// sanitized; internal details stay in the logs.
	WriteErrorFrame(message string) error

	// WriteKeepAlive sends an SSE comment to keep the connection alive
	// through proxies during long generation calls.
	WriteKeepAlive() error
}

// =============================================================================
// Frame Shapes
// =============================================================================

// progressFrame is the wire form of a non-terminal event.
type progressFrame struct {
	Type       string `json:"type"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"totalSteps"`
	Progress   int    `json:"progress"`
	Message    string `json:"message"`
}

// completeFrame is the wire form of the terminal success frame.
type completeFrame struct {
	Type    string               `json:"type"`
	Success bool                 `json:"success"`
	Plan    *planner.PipelineRun `json:"plan"`
	Count   int                  `json:"count"`
}

// errorFrame is the wire form of the terminal failure frame.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements StreamWriter over an http.ResponseWriter, flushing
// after every frame.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewStreamWriter creates a StreamWriter for the given ResponseWriter. It
// only checks the flush capability; the caller sets SSE headers via
// SetSSEHeaders once streaming is confirmed possible, before the first write.
func NewStreamWriter(w http.ResponseWriter) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// writeFrame marshals v and writes one "data: {json}\n\n" unit.
func (w *sseWriter) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteProgress(ev planner.ProgressEvent) error {
	return w.writeFrame(progressFrame{
		Type:       string(planner.EventProgress),
		Step:       ev.Step,
		TotalSteps: ev.TotalSteps,
		Progress:   ev.Progress,
		Message:    ev.Message,
	})
}

func (w *sseWriter) WriteComplete(plan *planner.PipelineRun) error {
	count := 0
	if plan != nil {
		count = len(plan.Candidates)
	}
	return w.writeFrame(completeFrame{
		Type:    string(planner.EventComplete),
		Success: true,
		Plan:    plan,
		Count:   count,
	})
}

func (w *sseWriter) WriteErrorFrame(message string) error {
	return w.writeFrame(errorFrame{
		Type:    string(planner.EventError),
		Message: message,
	})
}

// WriteKeepAlive sends ": ping\n\n". Comments are ignored by SSE clients but
// reset proxy and load balancer idle timers.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures the response headers for SSE streaming. Must be
// called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamWriter = (*sseWriter)(nil)
