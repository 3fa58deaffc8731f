// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ideaplane/ideaplane/services/llm"
	"github.com/ideaplane/ideaplane/services/planner"
)

// DefaultBatchSize groups items for logging and bookkeeping when the caller
// does not choose one.
const DefaultBatchSize = 5

// Hooks are optional observation points for the controller. All fields may
// be nil.
type Hooks struct {
	// OnItem is called after each processed item.
	OnItem func(jobID string, success bool)

	// OnStatus is called after each job status transition.
	OnStatus func(jobID string, status Status)
}

// execState is the in-memory run state for one active job. The ETA average
// deliberately lives here and not in the checkpoint: it is a running mean
// over the current run only, reset on every resume.
type execState struct {
	mu             sync.Mutex
	job            *Job
	pauseRequested bool
	itemCount      int
	totalItemTime  time.Duration
	done           chan struct{}
}

// Controller drives batch jobs through their lifecycle.
//
// # Description
//
// A job processes its items strictly sequentially; per-item failures are
// counted and never halt the job. Every processed item is followed by a
// checkpoint write, so a pause or crash loses at most the in-flight item.
// Only one executor may hold a job in Generating at a time.
//
// # Thread Safety
//
// Safe for concurrent use across jobs and callers.
type Controller struct {
	client *llm.FallbackClient
	store  *Store
	logger *slog.Logger
	hooks  Hooks

	mu     sync.Mutex
	active map[string]*execState
}

// NewController creates a batch controller.
func NewController(client *llm.FallbackClient, store *Store, hooks Hooks,
	logger *slog.Logger) (*Controller, error) {

	if client == nil || store == nil {
		return nil, fmt.Errorf("%w: client and store must not be nil", ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client: client,
		store:  store,
		logger: logger,
		hooks:  hooks,
		active: make(map[string]*execState),
	}, nil
}

// Start begins a new job or resumes a paused one.
//
// # Description
//
// With an empty jobID a new job is created over items. With an existing
// jobID the checkpoint is loaded and processing continues from the first
// unprocessed item; the items argument is ignored on resume. Starting a job
// that is already generating returns ErrAlreadyGenerating rather than
// spawning a second executor.
//
// # Outputs
//
//   - string: The job ID.
//   - error: ErrAlreadyGenerating, ErrJobFinished, ErrJobNotFound, or a
//     validation/storage error.
func (c *Controller) Start(jobID string, items []planner.CandidateItem, batchSize int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if jobID != "" {
		if _, running := c.active[jobID]; running {
			return jobID, ErrAlreadyGenerating
		}
		job, err := c.store.LoadJob(jobID)
		if err != nil {
			return "", err
		}
		switch job.Status {
		case StatusGenerating:
			// Checkpoint says generating but no executor holds it: the
			// process restarted mid-run. Resume from the checkpoint.
		case StatusPaused, StatusConfiguring:
		case StatusCompleted, StatusFailed:
			return jobID, fmt.Errorf("%w: status %s", ErrJobFinished, job.Status)
		}
		return jobID, c.launchLocked(job)
	}

	if len(items) == 0 {
		return "", fmt.Errorf("%w: items must not be empty", ErrInvalidInput)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusConfiguring,
		BatchSize: batchSize,
		Total:     len(items),
		Remaining: append([]planner.CandidateItem(nil), items...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return job.ID, c.launchLocked(job)
}

// launchLocked transitions the job to Generating, checkpoints it, and spawns
// the run loop. Caller holds c.mu.
func (c *Controller) launchLocked(job *Job) error {
	job.Status = StatusGenerating
	job.UpdatedAt = time.Now().UTC()
	if err := c.store.SaveJob(job); err != nil {
		return fmt.Errorf("checkpoint on start: %w", err)
	}

	es := &execState{job: job, done: make(chan struct{})}
	c.active[job.ID] = es

	c.logger.Info("batch job generating",
		slog.String("job_id", job.ID),
		slog.Int("total", job.Total),
		slog.Int("remaining", len(job.Remaining)),
		slog.Int("batch_size", job.BatchSize),
	)
	c.notifyStatus(job.ID, StatusGenerating)

	go c.run(es)
	return nil
}

// Pause requests a pause; it takes effect at the next item boundary, never
// mid-call. Valid only while the job is generating.
func (c *Controller) Pause(jobID string) error {
	c.mu.Lock()
	es, running := c.active[jobID]
	c.mu.Unlock()
	if !running {
		return ErrNotGenerating
	}

	es.mu.Lock()
	es.pauseRequested = true
	es.mu.Unlock()

	c.logger.Info("batch job pause requested", slog.String("job_id", jobID))
	return nil
}

// Progress reports the latest state of a job. Safe to poll at any interval;
// an inactive job is answered from its last checkpoint.
func (c *Controller) Progress(jobID string) (Progress, error) {
	c.mu.Lock()
	es, running := c.active[jobID]
	c.mu.Unlock()

	if running {
		es.mu.Lock()
		defer es.mu.Unlock()
		return Progress{
			Percentage:   es.job.Percentage(),
			Generated:    es.job.Generated,
			Failed:       es.job.Failed,
			ETAMinutes:   etaMinutes(len(es.job.Remaining), es.itemCount, es.totalItemTime),
			IsGenerating: true,
		}, nil
	}

	job, err := c.store.LoadJob(jobID)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		Percentage: job.Percentage(),
		Generated:  job.Generated,
		Failed:     job.Failed,
	}, nil
}

// run is the sequential item loop for one job. It owns the job until it
// returns; the job outlives the HTTP request that started it, so the loop
// runs under a background context.
func (c *Controller) run(es *execState) {
	defer close(es.done)
	ctx := context.Background()

	for {
		es.mu.Lock()
		if es.pauseRequested {
			es.job.Status = StatusPaused
			c.finishLocked(es, "batch job paused")
			es.mu.Unlock()
			return
		}
		if len(es.job.Remaining) == 0 {
			es.job.Status = StatusCompleted
			c.finishLocked(es, "batch job completed")
			es.mu.Unlock()
			return
		}
		item := es.job.Remaining[0]
		jobID := es.job.ID
		seq := es.job.Processed()
		es.mu.Unlock()

		start := time.Now()
		result, failure := c.client.Invoke(ctx, llm.Request{Prompt: buildItemPrompt(item)})
		elapsed := time.Since(start)

		success := failure == nil
		if success {
			if err := c.store.SaveDraft(jobID, seq, []byte(result.Raw)); err != nil {
				c.fail(es, fmt.Errorf("save draft: %w", err))
				return
			}
		} else {
			c.logger.Warn("batch item failed",
				slog.String("job_id", jobID),
				slog.String("title", item.Title),
				slog.String("error", failure.Error()),
			)
		}

		es.mu.Lock()
		if success {
			es.job.Generated++
		} else {
			es.job.Failed++
		}
		es.job.Remaining = es.job.Remaining[1:]
		es.job.UpdatedAt = time.Now().UTC()
		es.itemCount++
		es.totalItemTime += elapsed
		if es.job.Processed()%es.job.BatchSize == 0 {
			c.logger.Info("batch boundary",
				slog.String("job_id", jobID),
				slog.Int("processed", es.job.Processed()),
				slog.Int("total", es.job.Total),
			)
		}
		err := c.store.SaveJob(es.job)
		es.mu.Unlock()

		c.notifyItem(jobID, success)

		if err != nil {
			c.fail(es, fmt.Errorf("checkpoint after item: %w", err))
			return
		}
	}
}

// finishLocked checkpoints a terminal-or-paused transition and deactivates
// the executor. Caller holds es.mu.
func (c *Controller) finishLocked(es *execState, msg string) {
	es.job.UpdatedAt = time.Now().UTC()
	if err := c.store.SaveJob(es.job); err != nil {
		// The transition itself could not be made durable.
		es.job.Status = StatusFailed
		c.logger.Error("checkpoint on transition failed",
			slog.String("job_id", es.job.ID),
			slog.String("error", err.Error()),
		)
	}
	c.logger.Info(msg,
		slog.String("job_id", es.job.ID),
		slog.Int("generated", es.job.Generated),
		slog.Int("failed", es.job.Failed),
	)
	c.deactivate(es.job.ID)
	c.notifyStatus(es.job.ID, es.job.Status)
}

// fail transitions the job to Failed on an infrastructure error.
func (c *Controller) fail(es *execState, err error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.job.Status = StatusFailed
	es.job.UpdatedAt = time.Now().UTC()
	if saveErr := c.store.SaveJob(es.job); saveErr != nil {
		c.logger.Error("checkpoint on failure also failed",
			slog.String("job_id", es.job.ID),
			slog.String("error", saveErr.Error()),
		)
	}
	c.logger.Error("batch job failed",
		slog.String("job_id", es.job.ID),
		slog.String("error", err.Error()),
	)
	c.deactivate(es.job.ID)
	c.notifyStatus(es.job.ID, StatusFailed)
}

func (c *Controller) deactivate(jobID string) {
	c.mu.Lock()
	delete(c.active, jobID)
	c.mu.Unlock()
}

func (c *Controller) notifyItem(jobID string, success bool) {
	if c.hooks.OnItem != nil {
		c.hooks.OnItem(jobID, success)
	}
}

func (c *Controller) notifyStatus(jobID string, status Status) {
	if c.hooks.OnStatus != nil {
		c.hooks.OnStatus(jobID, status)
	}
}

// awaitIdle blocks until the job's current executor exits. Present for
// deterministic tests and graceful shutdown.
func (c *Controller) awaitIdle(jobID string) {
	c.mu.Lock()
	es, running := c.active[jobID]
	c.mu.Unlock()
	if running {
		<-es.done
	}
}

// AwaitAll blocks until every active executor exits or ctx is done. Used on
// shutdown after pausing the jobs that should survive the restart.
func (c *Controller) AwaitAll(ctx context.Context) error {
	c.mu.Lock()
	var dones []chan struct{}
	for _, es := range c.active {
		dones = append(dones, es.done)
	}
	c.mu.Unlock()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// PauseAll requests a pause for every active job.
func (c *Controller) PauseAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		_ = c.Pause(id)
	}
}

// etaMinutes computes ceil(remaining * averageSecondsPerItem / 60) from the
// current run's running mean, 0 before the first completed item.
func etaMinutes(remaining, itemCount int, totalItemTime time.Duration) int {
	if remaining <= 0 || itemCount <= 0 {
		return 0
	}
	avgSeconds := totalItemTime.Seconds() / float64(itemCount)
	return int(math.Ceil(float64(remaining) * avgSeconds / 60))
}

// buildItemPrompt renders the generation prompt for one candidate item.
func buildItemPrompt(item planner.CandidateItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a full %s draft titled %q.\n", contentTypeOrDefault(item), item.Title)
	if item.PrimaryKeyword != "" {
		fmt.Fprintf(&b, "Primary keyword: %s.\n", item.PrimaryKeyword)
	}
	if len(item.SecondaryKeywords) > 0 {
		fmt.Fprintf(&b, "Secondary keywords: %s.\n", strings.Join(item.SecondaryKeywords, ", "))
	}
	if item.Rationale != "" {
		fmt.Fprintf(&b, "Angle: %s\n", item.Rationale)
	}
	b.WriteString("Return JSON: {\"draft\": \"<the full draft>\", \"outline\": [list of section headings]}")
	return b.String()
}

func contentTypeOrDefault(item planner.CandidateItem) string {
	if item.ContentType != "" {
		return item.ContentType
	}
	return "article"
}
