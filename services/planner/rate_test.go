// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFirstCallIsImmediate(t *testing.T) {
	s := NewScheduler(time.Second)
	assert.Equal(t, time.Duration(0), s.NextSlot("ollama"))
}

func TestSchedulerNextSlotDoesNotConsume(t *testing.T) {
	s := NewScheduler(time.Second)

	// Peeking repeatedly must not push the slot back.
	for i := 0; i < 5; i++ {
		assert.Equal(t, time.Duration(0), s.NextSlot("ollama"))
	}
}

func TestSchedulerSpacesCallsPerBackend(t *testing.T) {
	s := NewScheduler(50 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Wait(ctx, "ollama"))
	wait := s.NextSlot("ollama")
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 50*time.Millisecond)

	// A different backend is unaffected.
	assert.Equal(t, time.Duration(0), s.NextSlot("openai"))

	start := time.Now()
	require.NoError(t, s.Wait(ctx, "ollama"))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSchedulerZeroAfterIntervalElapsed(t *testing.T) {
	s := NewScheduler(20 * time.Millisecond)
	require.NoError(t, s.Wait(context.Background(), "ollama"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, time.Duration(0), s.NextSlot("ollama"))
}

func TestSchedulerWaitHonorsContext(t *testing.T) {
	s := NewScheduler(5 * time.Second)
	ctx := context.Background()
	require.NoError(t, s.Wait(ctx, "ollama"))

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.Wait(cancelled, "ollama")
	assert.Error(t, err)
}
