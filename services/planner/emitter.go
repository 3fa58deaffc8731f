// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"log/slog"
	"sync"
)

// DefaultEventBuffer is the per-run progress buffer size.
const DefaultEventBuffer = 64

// Emitter delivers progress events to exactly one subscriber per run.
//
// # Description
//
// Each run gets one bounded channel. Events are delivered in emission order
// with a non-decreasing percentage, and exactly one terminal event
// (complete or error) is sent, after which the channel is closed and the
// run's stream is released.
//
// Emission never blocks pipeline progress: the channel capacity reserves one
// slot for the terminal event, and if the non-terminal buffer fills (a
// subscriber that stopped reading), the run's stream is dropped with a
// terminal error event instead of exerting backpressure on the sequencer.
//
// # Thread Safety
//
// Safe for concurrent use across runs; events within one run are expected
// from a single producer goroutine.
type Emitter struct {
	mu      sync.Mutex
	buffer  int
	logger  *slog.Logger
	streams map[string]*runStream
}

type runStream struct {
	ch      chan ProgressEvent
	lastPct int
	closed  bool
}

// NewEmitter creates an emitter with the given per-run buffer size. Zero or
// negative means DefaultEventBuffer.
func NewEmitter(buffer int, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		buffer:  buffer,
		logger:  logger,
		streams: make(map[string]*runStream),
	}
}

// Subscribe registers the single subscriber for a run and returns its event
// channel. The channel is closed after the terminal event. Subscribing twice
// for the same run replaces the previous (unread) stream.
func (e *Emitter) Subscribe(runID string) <-chan ProgressEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.streams[runID]; ok && !old.closed {
		close(old.ch)
	}
	// +1 reserves a slot for the terminal event even when the
	// non-terminal buffer is full.
	s := &runStream{ch: make(chan ProgressEvent, e.buffer+1)}
	e.streams[runID] = s
	return s.ch
}

// Emit delivers one event to the run's subscriber.
//
// # Description
//
// Non-terminal events are dropped with a terminal error if the buffer is
// full. Percentages are clamped so the delivered sequence is non-decreasing.
// Terminal events close the stream; anything emitted after the terminal
// event is discarded. Emitting for an unknown run is a no-op.
func (e *Emitter) Emit(runID string, ev ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[runID]
	if !ok || s.closed {
		return
	}

	if ev.Progress < s.lastPct {
		ev.Progress = s.lastPct
	}
	s.lastPct = ev.Progress

	if ev.Terminal() {
		s.ch <- ev
		e.closeStreamLocked(runID, s)
		return
	}

	if len(s.ch) >= e.buffer {
		e.logger.Warn("progress subscriber overflow, dropping run stream",
			slog.String("run_id", runID),
			slog.Int("buffer", e.buffer),
		)
		s.ch <- ProgressEvent{
			Type:       EventError,
			Step:       ev.Step,
			TotalSteps: ev.TotalSteps,
			Progress:   s.lastPct,
			Message:    ErrSubscriberOverflow.Error(),
		}
		e.closeStreamLocked(runID, s)
		return
	}

	s.ch <- ev
}

// Release drops a run's stream without a terminal event. Used when the
// subscriber disconnects before the run finishes.
func (e *Emitter) Release(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.streams[runID]; ok && !s.closed {
		e.closeStreamLocked(runID, s)
	}
}

// Active reports whether a run still has an open stream.
func (e *Emitter) Active(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[runID]
	return ok && !s.closed
}

func (e *Emitter) closeStreamLocked(runID string, s *runStream) {
	s.closed = true
	close(s.ch)
	delete(e.streams, runID)
}
