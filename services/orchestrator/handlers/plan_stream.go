// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP handlers of the orchestrator: the
// SSE plan stream and the batch job control surface.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ideaplane/ideaplane/services/orchestrator/datatypes"
	"github.com/ideaplane/ideaplane/services/orchestrator/observability"
	"github.com/ideaplane/ideaplane/services/planner"
)

// keepAliveInterval spaces SSE comment pings during long generation calls.
const keepAliveInterval = 15 * time.Second

// PlanHandler serves the plan-stream endpoint: one POST opens an SSE stream,
// runs the pipeline, and relays its progress events as frames.
type PlanHandler struct {
	sequencer *planner.Sequencer
	emitter   *planner.Emitter
	corpus    planner.CorpusProvider
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewPlanHandler creates the plan-stream handler. The corpus provider is the
// default used when a request does not inline its own corpus.
func NewPlanHandler(sequencer *planner.Sequencer, emitter *planner.Emitter,
	corpus planner.CorpusProvider, metrics *observability.Metrics,
	logger *slog.Logger) *PlanHandler {

	if logger == nil {
		logger = slog.Default()
	}
	return &PlanHandler{
		sequencer: sequencer,
		emitter:   emitter,
		corpus:    corpus,
		metrics:   metrics,
		logger:    logger,
	}
}

// Stream handles POST /api/v1/plan/stream.
//
// # Description
//
// Validates the request, subscribes to a fresh run, starts the pipeline on
// the request context (a client disconnect cancels the run at the next stage
// boundary), and relays events until the single terminal frame. Keepalive
// comments are sent between frames so proxies do not cut long stages.
func (h *PlanHandler) Stream(c *gin.Context) {
	var req datatypes.PlanStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return
	}

	corpus := h.corpus
	if len(req.Corpus) > 0 {
		corpus = planner.StaticCorpus(req.Corpus)
	}
	if corpus == nil {
		corpus = planner.StaticCorpus(nil)
	}

	runID := uuid.NewString()
	ch := h.emitter.Subscribe(runID)

	// Capability check before any SSE headers, so a JSON error response is
	// not sent with an event-stream content type.
	writer, err := NewStreamWriter(c.Writer)
	if err != nil {
		h.emitter.Release(runID)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}
	SetSSEHeaders(c.Writer)

	h.streamStarted()
	start := time.Now()

	go func() {
		_, runErr := h.sequencer.Run(c.Request.Context(), runID, planner.RunRequest{
			ScopeID: req.ScopeID,
			Niche:   req.Niche,
			Count:   req.Count,
		}, corpus)
		if runErr != nil {
			h.logger.Info("plan run ended with error",
				slog.String("run_id", runID),
				slog.String("error", runErr.Error()),
			)
		}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Stream released without a terminal event.
				h.finishStream("error", start)
				return
			}
			switch ev.Type {
			case planner.EventComplete:
				plan, _ := ev.Payload.(*planner.PipelineRun)
				if err := writer.WriteComplete(plan); err != nil {
					h.clientGone(runID)
				}
				h.finishStream("completed", start)
				return
			case planner.EventError:
				if err := writer.WriteErrorFrame(ev.Message); err != nil {
					h.clientGone(runID)
				}
				status := "error"
				if ev.Message == planner.ErrRunAborted.Error() {
					status = "aborted"
				}
				h.finishStream(status, start)
				return
			default:
				if err := writer.WriteProgress(ev); err != nil {
					h.clientGone(runID)
					h.finishStream("error", start)
					return
				}
			}

		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.clientGone(runID)
				h.finishStream("error", start)
				return
			}
			if h.metrics != nil {
				h.metrics.RecordKeepAlive()
			}

		case <-c.Request.Context().Done():
			// The request context also cancels the run; the sequencer will
			// abort at its next stage boundary.
			h.clientGone(runID)
			h.finishStream("aborted", start)
			return
		}
	}
}

func (h *PlanHandler) streamStarted() {
	if h.metrics != nil {
		h.metrics.StreamStarted()
	}
}

func (h *PlanHandler) finishStream(status string, start time.Time) {
	if h.metrics != nil {
		h.metrics.StreamEnded()
		h.metrics.RecordRun(status, time.Since(start).Seconds())
	}
}

func (h *PlanHandler) clientGone(runID string) {
	h.emitter.Release(runID)
	if h.metrics != nil {
		h.metrics.RecordClientDisconnect()
	}
	h.logger.Info("plan stream client disconnected", slog.String("run_id", runID))
}
