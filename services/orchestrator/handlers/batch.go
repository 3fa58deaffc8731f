// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ideaplane/ideaplane/services/batch"
	"github.com/ideaplane/ideaplane/services/orchestrator/datatypes"
)

// BatchHandler serves the batch job control surface: start, pause, and a
// pull-based progress poll that always reflects the latest checkpoint.
type BatchHandler struct {
	controller *batch.Controller
	logger     *slog.Logger
}

// NewBatchHandler creates the batch control handler.
func NewBatchHandler(controller *batch.Controller, logger *slog.Logger) *BatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchHandler{controller: controller, logger: logger}
}

// Start handles POST /api/v1/batch/start. With a jobId it resumes a paused
// job; without one it creates a new job over items. Starting a job that is
// already generating is an idempotent no-op.
func (h *BatchHandler) Start(c *gin.Context) {
	var req datatypes.StartBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return
	}

	jobID, err := h.controller.Start(req.JobID, req.Items, req.BatchSize)
	switch {
	case errors.Is(err, batch.ErrAlreadyGenerating):
		c.JSON(http.StatusOK, datatypes.StartBatchResponse{
			JobID:  jobID,
			Status: string(batch.StatusGenerating),
		})
	case errors.Is(err, batch.ErrJobNotFound):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "job not found"})
	case errors.Is(err, batch.ErrJobFinished):
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: err.Error()})
	case errors.Is(err, batch.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
	case err != nil:
		h.logger.Error("batch start failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
	default:
		c.JSON(http.StatusAccepted, datatypes.StartBatchResponse{
			JobID:  jobID,
			Status: string(batch.StatusGenerating),
		})
	}
}

// Pause handles POST /api/v1/batch/pause. The pause takes effect at the next
// item boundary; the response confirms the request, not the transition.
func (h *BatchHandler) Pause(c *gin.Context) {
	var req datatypes.PauseBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.controller.Pause(req.JobID); err != nil {
		if errors.Is(err, batch.ErrNotGenerating) {
			c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("batch pause failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, datatypes.PauseBatchResponse{Status: string(batch.StatusPaused)})
}

// Progress handles GET /api/v1/batch/:jobId/progress. Safe to poll at any
// interval.
func (h *BatchHandler) Progress(c *gin.Context) {
	jobID := c.Param("jobId")

	prog, err := h.controller.Progress(jobID)
	if err != nil {
		if errors.Is(err, batch.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "job not found"})
			return
		}
		h.logger.Error("batch progress failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, prog)
}
