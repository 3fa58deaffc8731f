// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval spaces successive calls to the same backend.
const DefaultMinInterval = 500 * time.Millisecond

// Scheduler enforces a minimum inter-call interval per backend.
//
// # Description
//
// Both the Sequencer and the batch controller issue generation calls through
// a Scheduler so that bursts never hit a rate-limited backend. Internally
// each backend ID maps to one token-bucket limiter (burst 1, refill every
// MinInterval); the limiter is the single synchronized per-backend value the
// whole process shares.
//
// # Thread Safety
//
// Safe for concurrent use by any number of runs and jobs.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

// NewScheduler creates a scheduler with the given minimum interval between
// calls to the same backend. Zero or negative means DefaultMinInterval.
func NewScheduler(minInterval time.Duration) *Scheduler {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Scheduler{
		interval: minInterval,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *Scheduler) limiter(backendID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[backendID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.interval), 1)
		s.limiters[backendID] = lim
	}
	return lim
}

// NextSlot returns the remaining wait before the backend's next allowed
// call, or zero if the interval has already elapsed.
//
// The reservation is cancelled immediately, so peeking does not consume the
// slot.
func (s *Scheduler) NextSlot(backendID string) time.Duration {
	lim := s.limiter(backendID)
	now := time.Now()
	r := lim.ReserveN(now, 1)
	d := r.DelayFrom(now)
	r.CancelAt(now)
	if d < 0 {
		return 0
	}
	return d
}

// Wait blocks until the backend's next slot or until ctx is done. This is a
// scheduled delay, not a spin-wait.
func (s *Scheduler) Wait(ctx context.Context, backendID string) error {
	return s.limiter(backendID).Wait(ctx)
}
