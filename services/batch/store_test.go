// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package batch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideaplane/ideaplane/services/planner"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(InMemoryStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleJob(id string) *Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Job{
		ID:        id,
		Status:    StatusPaused,
		BatchSize: 3,
		Total:     10,
		Generated: 3,
		Failed:    1,
		Remaining: []planner.CandidateItem{
			{Title: "Item five", PrimaryKeyword: "five"},
			{Title: "Item six", PrimaryKeyword: "six"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	store := newTestStore(t)
	job := sampleJob("job-1")
	require.NoError(t, store.SaveJob(job))

	loaded, err := store.LoadJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, job.Status, loaded.Status)
	assert.Equal(t, job.Generated, loaded.Generated)
	assert.Equal(t, job.Failed, loaded.Failed)
	require.Len(t, loaded.Remaining, 2)
	assert.Equal(t, "Item five", loaded.Remaining[0].Title)
}

func TestStoreLoadUnknownJob(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadJob("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStoreSaveOverwritesCheckpoint(t *testing.T) {
	store := newTestStore(t)
	job := sampleJob("job-1")
	require.NoError(t, store.SaveJob(job))

	job.Generated = 9
	job.Remaining = nil
	job.Status = StatusCompleted
	require.NoError(t, store.SaveJob(job))

	loaded, err := store.LoadJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Equal(t, 9, loaded.Generated)
	assert.Empty(t, loaded.Remaining)
}

func TestStoreDetectsCorruptCheckpoint(t *testing.T) {
	store := newTestStore(t)
	job := sampleJob("job-1")

	// Write a checkpoint whose checksum does not match its contents.
	data, err := json.Marshal(&serializableCheckpoint{
		Job:       job,
		Timestamp: time.Now().UTC(),
		Version:   CheckpointVersion,
		Checksum:  "deadbeef",
	})
	require.NoError(t, err)
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(jobKeyPrefix+"job-1"), data)
	}))

	_, err = store.LoadJob("job-1")
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)
}

func TestStoreDetectsVersionMismatch(t *testing.T) {
	store := newTestStore(t)
	data, err := json.Marshal(&serializableCheckpoint{
		Job:       sampleJob("job-1"),
		Timestamp: time.Now().UTC(),
		Version:   "0.9.0",
	})
	require.NoError(t, err)
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(jobKeyPrefix+"job-1"), data)
	}))

	_, err = store.LoadJob("job-1")
	assert.ErrorIs(t, err, ErrCheckpointVersionMismatch)
}

func TestStoreDraftRoundtrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveDraft("job-1", 0, []byte(`{"draft":"text"}`)))

	data, err := store.LoadDraft("job-1", 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"draft":"text"}`, string(data))

	_, err = store.LoadDraft("job-1", 99)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStoreDeleteJob(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveJob(sampleJob("job-1")))
	require.NoError(t, store.DeleteJob("job-1"))

	_, err := store.LoadJob("job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// Deleting twice is a no-op.
	assert.NoError(t, store.DeleteJob("job-1"))
}
