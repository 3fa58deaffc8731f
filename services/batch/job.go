// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package batch implements pausable, checkpointed batch generation jobs:
// item-by-item content generation over a candidate list, with durable
// progress so a multi-hour job survives a pause or a process restart.
package batch

import (
	"errors"
	"time"

	"github.com/ideaplane/ideaplane/services/planner"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrInvalidInput indicates a nil or malformed argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobNotFound indicates the job ID has no checkpoint.
	ErrJobNotFound = errors.New("job not found")

	// ErrAlreadyGenerating indicates a start call on a job that already has
	// an active executor. The status field acts as a single-writer lock.
	ErrAlreadyGenerating = errors.New("job is already generating")

	// ErrNotGenerating indicates a pause call on a job that is not running.
	ErrNotGenerating = errors.New("job is not generating")

	// ErrJobFinished indicates a start call on a completed or failed job.
	ErrJobFinished = errors.New("job already finished")
)

// =============================================================================
// Job Model
// =============================================================================

// Status is the lifecycle state of a batch job.
//
// Transitions: Configuring -> Generating <-> Paused -> Completed | Failed.
// Failed is reserved for infrastructure failures (checkpoint storage);
// per-item generation failures only increment the failed counter.
type Status string

const (
	StatusConfiguring Status = "configuring"
	StatusGenerating  Status = "generating"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Job is the checkpointed state of one batch generation job.
//
// The controller is the only writer while the job is generating; everything
// here survives in the checkpoint store across pause and restart.
type Job struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	BatchSize int    `json:"batch_size"`

	// Total is the item count the job started with. Invariant:
	// Generated + Failed + len(Remaining) == Total.
	Total     int `json:"total"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`

	// Remaining holds the unprocessed items in dequeue order.
	Remaining []planner.CandidateItem `json:"remaining"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Processed returns the number of items handled so far, success or failure.
func (j *Job) Processed() int { return j.Generated + j.Failed }

// Percentage returns whole-number completion, 0 for an empty job.
func (j *Job) Percentage() int {
	if j.Total <= 0 {
		return 0
	}
	return 100 * j.Processed() / j.Total
}

// Progress is the poll response for one job. ETAMinutes is 0 until the
// current run has completed at least one item.
type Progress struct {
	Percentage   int  `json:"percentage"`
	Generated    int  `json:"generated"`
	Failed       int  `json:"failed"`
	ETAMinutes   int  `json:"etaMinutes"`
	IsGenerating bool `json:"isGenerating"`
}
