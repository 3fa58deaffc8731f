// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the request and response shapes of the HTTP API.
package datatypes

import "github.com/ideaplane/ideaplane/services/planner"

// PlanStreamRequest starts one content-plan pipeline run whose progress is
// streamed back over SSE.
type PlanStreamRequest struct {
	// ScopeID selects the corpus scope. Optional when Corpus is inlined.
	ScopeID string `json:"scope_id"`

	// Niche is the content niche to plan for.
	Niche string `json:"niche" binding:"required,min=2,max=200"`

	// Count is the desired number of candidate items before deduplication.
	Count int `json:"count" binding:"omitempty,min=1,max=100"`

	// Corpus optionally inlines the existing titles instead of resolving
	// them through the configured corpus provider.
	Corpus []string `json:"corpus" binding:"omitempty,max=5000"`
}

// StartBatchRequest starts a new batch job over items, or resumes a paused
// job when JobID is set (Items is ignored on resume).
type StartBatchRequest struct {
	JobID     string                  `json:"jobId"`
	Items     []planner.CandidateItem `json:"items" binding:"omitempty,max=1000"`
	BatchSize int                     `json:"batchSize" binding:"omitempty,min=1,max=100"`
}

// StartBatchResponse identifies the started or resumed job.
type StartBatchResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// PauseBatchRequest pauses a generating job at its next item boundary.
type PauseBatchRequest struct {
	JobID string `json:"jobId" binding:"required"`
}

// PauseBatchResponse confirms the pause request.
type PauseBatchResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the uniform error body for non-streaming endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}
