// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package planner implements the content-plan generation pipeline: an
// ordered sequence of analysis stages feeding a synthesis stage, with
// similarity deduplication of the result against the caller's existing
// corpus and streaming progress delivery.
package planner

import (
	"errors"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrInvalidInput indicates a nil or malformed argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunAborted indicates the caller cancelled the run; observed at the
	// next stage boundary, never mid-call.
	ErrRunAborted = errors.New("run aborted")

	// ErrSubscriberOverflow indicates the progress buffer filled because the
	// subscriber stopped reading; the run is dropped rather than blocked.
	ErrSubscriberOverflow = errors.New("progress subscriber overflow")
)

// =============================================================================
// Run Model
// =============================================================================

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// PipelineRun records one pipeline execution.
//
// The run is owned exclusively by the Sequencer while Status is running and
// is read-only once it reaches a terminal status.
type PipelineRun struct {
	ID         string          `json:"id"`
	Stages     []StageResult   `json:"stages"`
	Candidates []CandidateItem `json:"candidates"`
	Status     RunStatus       `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StageResult is the immutable record of one stage execution. A failed stage
// carries an empty Output and Success=false; the run continues regardless.
type StageResult struct {
	Name    string         `json:"name"`
	Output  map[string]any `json:"output"`
	Success bool           `json:"success"`
	Elapsed time.Duration  `json:"elapsed"`
	Err     string         `json:"error,omitempty"`
}

// Priority ranks a candidate item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// CandidateItem is one proposed content idea produced by the synthesis
// stage. Items are never mutated after creation; the deduplicator either
// keeps or discards them whole.
type CandidateItem struct {
	Title             string   `json:"title"`
	PrimaryKeyword    string   `json:"primary_keyword"`
	SecondaryKeywords []string `json:"secondary_keywords"`
	ContentType       string   `json:"content_type"`
	Priority          Priority `json:"priority"`
	Rationale         string   `json:"rationale"`
	FromTrend         bool     `json:"from_trend"`
	FromGap           bool     `json:"from_gap"`
}

// =============================================================================
// Progress Events
// =============================================================================

// EventType distinguishes progress frames from the single terminal frame.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// ProgressEvent is one unit on the progress stream. Events exist only on the
// wire; the core does not persist them.
type ProgressEvent struct {
	Type       EventType `json:"type"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"totalSteps"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	Payload    any       `json:"payload,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
