// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ideaplane/ideaplane/services/llm"
)

var (
	tracer = otel.Tracer("ideaplane.planner")
	meter  = otel.Meter("ideaplane.planner")
)

// synthesisStageName is the fixed final stage that turns analysis context
// into candidate items.
const synthesisStageName = "idea_synthesis"

// Sequencer runs the ordered analysis stages plus the synthesis stage for
// one pipeline run.
//
// # Description
//
// Stages execute strictly in configured order; each stage's prompt is built
// from every result produced so far. A stage whose backend chain is
// exhausted is recorded as a degraded (empty) result and the run continues:
// partial context is more useful to synthesis than none. Only an explicit
// caller cancellation aborts a run, and only at a stage boundary.
//
// # Thread Safety
//
// A Sequencer may execute many independent runs concurrently; each run's
// PipelineRun is owned by its Run call until it completes.
type Sequencer struct {
	client  *llm.FallbackClient
	emitter *Emitter
	dedup   Deduplicator
	stages  []Stage
	logger  *slog.Logger

	metricsOnce   sync.Once
	stageLatency  metric.Float64Histogram
	stageFailures metric.Int64Counter
	runLatency    metric.Float64Histogram
}

// RunRequest describes one content-plan generation run.
type RunRequest struct {
	// ScopeID selects the caller's corpus scope.
	ScopeID string

	// Niche is the content niche the plan targets.
	Niche string

	// Count is the desired number of candidate items before deduplication.
	Count int
}

// NewSequencer creates a sequencer.
//
// # Inputs
//
//   - client: Fallback generation client. Must not be nil.
//   - emitter: Progress emitter. Must not be nil.
//   - dedup: Deduplicator applied to the synthesized candidates.
//   - stages: Analysis stages in execution order. Nil means DefaultStages().
//   - logger: Logger. Nil uses slog.Default().
func NewSequencer(client *llm.FallbackClient, emitter *Emitter, dedup Deduplicator,
	stages []Stage, logger *slog.Logger) (*Sequencer, error) {

	if client == nil || emitter == nil {
		return nil, fmt.Errorf("%w: client and emitter must not be nil", ErrInvalidInput)
	}
	if stages == nil {
		stages = DefaultStages()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		client:  client,
		emitter: emitter,
		dedup:   dedup,
		stages:  stages,
		logger:  logger,
	}, nil
}

func (s *Sequencer) initMetrics() {
	s.metricsOnce.Do(func() {
		var err error
		s.stageLatency, err = meter.Float64Histogram("planner_stage_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			s.logger.Error("failed to init stage latency metric", slog.String("error", err.Error()))
		}
		s.stageFailures, err = meter.Int64Counter("planner_stage_degraded_total",
			metric.WithDescription("Number of stages that exhausted their backend chain"),
		)
		if err != nil {
			s.logger.Error("failed to init stage failure metric", slog.String("error", err.Error()))
		}
		s.runLatency, err = meter.Float64Histogram("planner_run_duration_seconds",
			metric.WithDescription("Total pipeline run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			s.logger.Error("failed to init run latency metric", slog.String("error", err.Error()))
		}
	})
}

// Run executes the full pipeline for one request.
//
// # Description
//
// Fetches the corpus once, runs every analysis stage, synthesizes candidate
// items, filters them through the deduplicator, and emits progress events
// throughout, including exactly one terminal event. The returned run is
// read-only once its status is terminal.
//
// # Inputs
//
//   - ctx: Cancellation is observed at stage boundaries and transitions the
//     run to aborted.
//   - runID: Identifier the subscriber used with Emitter.Subscribe.
//   - req: The run request.
//   - corpus: Read-only provider of existing topics. Must not be nil.
//
// # Outputs
//
//   - *PipelineRun: Non-nil whenever the run started; status reflects the
//     outcome.
//   - error: ErrRunAborted on cancellation; nil otherwise. Degraded stages
//     are data, not errors.
func (s *Sequencer) Run(ctx context.Context, runID string, req RunRequest,
	corpus CorpusProvider) (*PipelineRun, error) {

	if ctx == nil || corpus == nil {
		return nil, fmt.Errorf("%w: ctx and corpus must not be nil", ErrInvalidInput)
	}
	s.initMetrics()

	ctx, span := tracer.Start(ctx, "planner.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.niche", req.Niche),
	))
	defer span.End()

	start := time.Now()
	run := &PipelineRun{
		ID:        runID,
		Status:    RunStatusRunning,
		CreatedAt: start,
	}
	totalSteps := len(s.stages) + 1

	s.logger.Info("pipeline run started",
		slog.String("run_id", runID),
		slog.String("niche", req.Niche),
		slog.Int("total_steps", totalSteps),
	)

	existing, err := corpus.ListExistingTopics(ctx, req.ScopeID)
	if err != nil {
		// Degrade to an empty corpus: analysis loses context and dedup
		// keeps everything, but the run still completes.
		s.logger.Warn("corpus fetch failed, continuing with empty corpus",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		existing = nil
	}

	for i, stage := range s.stages {
		if ctx.Err() != nil {
			return s.abort(span, run, i, totalSteps)
		}

		s.emitter.Emit(runID, ProgressEvent{
			Type:       EventProgress,
			Step:       i + 1,
			TotalSteps: totalSteps,
			Progress:   stepPct(i, totalSteps),
			Message:    "Running " + stage.Name,
		})

		result := s.runStage(ctx, stage, StageInput{
			Niche:  req.Niche,
			Count:  req.Count,
			Corpus: existing,
			Prior:  run.Stages,
		})
		run.Stages = append(run.Stages, result)

		s.emitter.Emit(runID, ProgressEvent{
			Type:       EventProgress,
			Step:       i + 1,
			TotalSteps: totalSteps,
			Progress:   stepPct(i+1, totalSteps),
			Message:    "Completed " + stage.Name,
		})
	}

	if ctx.Err() != nil {
		return s.abort(span, run, len(s.stages), totalSteps)
	}

	s.emitter.Emit(runID, ProgressEvent{
		Type:       EventProgress,
		Step:       totalSteps,
		TotalSteps: totalSteps,
		Progress:   stepPct(len(s.stages), totalSteps),
		Message:    "Synthesizing candidate items",
	})

	candidates, synthesis := s.synthesize(ctx, req, existing, run.Stages)
	run.Stages = append(run.Stages, synthesis)
	run.Candidates = s.dedup.Filter(candidates, existing)
	run.Status = RunStatusCompleted

	duration := time.Since(start)
	if s.runLatency != nil {
		s.runLatency.Record(ctx, duration.Seconds())
	}
	span.SetStatus(codes.Ok, "")

	s.logger.Info("pipeline run completed",
		slog.String("run_id", runID),
		slog.Duration("duration", duration),
		slog.Int("candidates", len(run.Candidates)),
		slog.Int("dropped_duplicates", len(candidates)-len(run.Candidates)),
	)

	s.emitter.Emit(runID, ProgressEvent{
		Type:       EventComplete,
		Step:       totalSteps,
		TotalSteps: totalSteps,
		Progress:   100,
		Message:    "Plan ready",
		Payload:    run,
	})

	return run, nil
}

// runStage executes one analysis stage, returning a degraded result instead
// of an error when the backend chain is exhausted or the output does not
// parse.
func (s *Sequencer) runStage(ctx context.Context, stage Stage, in StageInput) StageResult {
	ctx, span := tracer.Start(ctx, "planner.stage."+stage.Name)
	defer span.End()

	timeout := stage.Timeout
	if timeout == 0 {
		timeout = DefaultStageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	// The schema check rides along as the request's validation hook, so a
	// backend that answers well-formed JSON of the wrong shape falls through
	// to the next backend in the chain instead of degrading the stage.
	result, failure := s.client.Invoke(stageCtx, llm.Request{
		Prompt: stage.BuildPrompt(in),
		Validate: func(value any) error {
			_, err := stage.Parse(value)
			return err
		},
	})
	elapsed := time.Since(start)
	s.recordStage(ctx, stage.Name, elapsed)

	if failure != nil {
		span.SetStatus(codes.Error, failure.Error())
		return s.degradedResult(ctx, stage.Name, elapsed, failure)
	}

	output, err := stage.Parse(result.Value)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return s.degradedResult(ctx, stage.Name, elapsed, err)
	}

	span.SetStatus(codes.Ok, "")
	s.logger.Info("stage completed",
		slog.String("stage", stage.Name),
		slog.String("backend", result.Backend),
		slog.Duration("elapsed", elapsed),
	)
	return StageResult{
		Name:    stage.Name,
		Output:  output,
		Success: true,
		Elapsed: elapsed,
	}
}

// synthesize runs the final stage over every prior result plus the corpus.
// On failure it returns no candidates and a degraded result; the run still
// completes with whatever earlier context produced.
func (s *Sequencer) synthesize(ctx context.Context, req RunRequest, corpus []string,
	prior []StageResult) ([]CandidateItem, StageResult) {

	ctx, span := tracer.Start(ctx, "planner.stage."+synthesisStageName)
	defer span.End()

	stageCtx, cancel := context.WithTimeout(ctx, DefaultStageTimeout)
	defer cancel()

	start := time.Now()
	result, failure := s.client.Invoke(stageCtx, llm.Request{
		Prompt:    buildSynthesisPrompt(req, corpus, prior),
		WantArray: true,
		Validate: func(value any) error {
			arr, ok := value.([]any)
			if !ok {
				return fmt.Errorf("expected array, got %T", value)
			}
			_, err := decodeCandidates(arr)
			return err
		},
	})
	elapsed := time.Since(start)
	s.recordStage(ctx, synthesisStageName, elapsed)

	if failure != nil {
		span.SetStatus(codes.Error, failure.Error())
		return nil, s.degradedResult(ctx, synthesisStageName, elapsed, failure)
	}

	arr, ok := result.Value.([]any)
	if !ok {
		err := fmt.Errorf("expected array, got %T", result.Value)
		span.SetStatus(codes.Error, err.Error())
		return nil, s.degradedResult(ctx, synthesisStageName, elapsed, err)
	}
	items, err := decodeCandidates(arr)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, s.degradedResult(ctx, synthesisStageName, elapsed, err)
	}

	span.SetStatus(codes.Ok, "")
	return items, StageResult{
		Name:    synthesisStageName,
		Output:  map[string]any{"count": len(items)},
		Success: true,
		Elapsed: elapsed,
	}
}

func (s *Sequencer) recordStage(ctx context.Context, name string, elapsed time.Duration) {
	if s.stageLatency != nil {
		s.stageLatency.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("stage", name)),
		)
	}
}

// degradedResult records a stage failure as data and bumps the metric.
func (s *Sequencer) degradedResult(ctx context.Context, name string,
	elapsed time.Duration, err error) StageResult {

	if s.stageFailures != nil {
		s.stageFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", name)),
		)
	}
	s.logger.Warn("stage degraded, continuing",
		slog.String("stage", name),
		slog.String("error", err.Error()),
	)
	return StageResult{
		Name:    name,
		Output:  map[string]any{},
		Success: false,
		Elapsed: elapsed,
		Err:     err.Error(),
	}
}

// abort finalizes a cancelled run at a stage boundary.
func (s *Sequencer) abort(span trace.Span, run *PipelineRun,
	completed, totalSteps int) (*PipelineRun, error) {

	run.Status = RunStatusAborted
	span.SetStatus(codes.Error, ErrRunAborted.Error())
	s.logger.Info("pipeline run aborted",
		slog.String("run_id", run.ID),
		slog.Int("completed_stages", completed),
	)
	s.emitter.Emit(run.ID, ProgressEvent{
		Type:       EventError,
		Step:       completed,
		TotalSteps: totalSteps,
		Progress:   stepPct(completed, totalSteps),
		Message:    ErrRunAborted.Error(),
	})
	return run, ErrRunAborted
}

// buildSynthesisPrompt renders the final prompt from the whole run context.
func buildSynthesisPrompt(req RunRequest, corpus []string, prior []StageResult) string {
	var b strings.Builder
	count := req.Count
	if count <= 0 {
		count = 10
	}
	fmt.Fprintf(&b, "Propose %d new content ideas for the %q niche.\n", count, req.Niche)
	writePriorContext(&b, prior)
	if len(corpus) > 0 {
		b.WriteString("\nAvoid topics already covered:\n")
		for _, t := range corpus {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	b.WriteString("\nReturn a JSON array of objects with fields: title, primary_keyword, " +
		"secondary_keywords (list), content_type, priority (high|medium|low), rationale, " +
		"from_trend (bool), from_gap (bool).")
	return b.String()
}

// stepPct computes round(100 * completed / total), clamped to [0, 100].
func stepPct(completed, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(completed) / float64(total)))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
