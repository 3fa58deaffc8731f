// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// CheckpointVersion is the current checkpoint format version (semver).
const CheckpointVersion = "1.0.0"

var (
	// ErrCheckpointCorrupt indicates the stored checksum does not match the
	// recomputed one.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt: checksum mismatch")

	// ErrCheckpointVersionMismatch indicates an incompatible checkpoint
	// format version.
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

const (
	jobKeyPrefix   = "job:"
	draftKeyPrefix = "draft:"
)

// serializableCheckpoint is the on-disk format for job checkpoints.
type serializableCheckpoint struct {
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Checksum  string    `json:"checksum"`
}

// computeChecksum calculates SHA256 of the checkpoint for integrity
// verification, excluding the checksum field itself.
func computeChecksum(job *Job, timestamp time.Time) (string, error) {
	data := struct {
		Job       *Job      `json:"job"`
		Timestamp time.Time `json:"timestamp"`
		Version   string    `json:"version"`
	}{
		Job:       job,
		Timestamp: timestamp,
		Version:   CheckpointVersion,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}

	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// StoreConfig configures the checkpoint store.
type StoreConfig struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for store operations. If nil, BadgerDB's internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultStoreConfig returns production defaults: durable synchronous writes
// at the given path.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{Path: path, SyncWrites: true}
}

// InMemoryStoreConfig returns a configuration for tests: no disk I/O.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store persists job checkpoints and generated drafts in an embedded
// BadgerDB.
//
// # Description
//
// Each checkpoint is JSON with a SHA256 checksum and a format version;
// loading verifies both, so a job never resumes from torn or incompatible
// state. BadgerDB's transactions make each save atomic.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// NewStore opens the checkpoint store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("%w: path required for persistent store", ErrInvalidInput)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveJob writes one checkpoint for the job, replacing any previous one.
func (s *Store) SaveJob(job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job with an ID required", ErrInvalidInput)
	}

	timestamp := time.Now().UTC()
	checksum, err := computeChecksum(job, timestamp)
	if err != nil {
		return fmt.Errorf("compute checksum: %w", err)
	}

	data, err := json.Marshal(&serializableCheckpoint{
		Job:       job,
		Timestamp: timestamp,
		Version:   CheckpointVersion,
		Checksum:  checksum,
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(jobKeyPrefix+job.ID), data)
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// LoadJob reads and verifies the latest checkpoint for a job.
//
// # Outputs
//
//   - *Job: The checkpointed job. Never nil on success.
//   - error: ErrJobNotFound, ErrCheckpointCorrupt,
//     ErrCheckpointVersionMismatch, or a storage error.
func (s *Store) LoadJob(jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobID must not be empty", ErrInvalidInput)
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(jobKeyPrefix + jobID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var sc serializableCheckpoint
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	if sc.Version != CheckpointVersion {
		return nil, fmt.Errorf("%w: got %s, want %s",
			ErrCheckpointVersionMismatch, sc.Version, CheckpointVersion)
	}

	expected, err := computeChecksum(sc.Job, sc.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("compute checksum for verification: %w", err)
	}
	if sc.Checksum != expected {
		return nil, ErrCheckpointCorrupt
	}

	return sc.Job, nil
}

// DeleteJob removes a job's checkpoint and is a no-op for unknown IDs.
func (s *Store) DeleteJob(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: jobID must not be empty", ErrInvalidInput)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(jobKeyPrefix + jobID))
	})
}

// SaveDraft stores one generated item's raw output under the job.
func (s *Store) SaveDraft(jobID string, seq int, raw []byte) error {
	if jobID == "" {
		return fmt.Errorf("%w: jobID must not be empty", ErrInvalidInput)
	}
	key := fmt.Sprintf("%s%s:%06d", draftKeyPrefix, jobID, seq)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}

// LoadDraft retrieves one generated item's raw output.
func (s *Store) LoadDraft(jobID string, seq int) ([]byte, error) {
	key := fmt.Sprintf("%s%s:%06d", draftKeyPrefix, jobID, seq)
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrJobNotFound
	}
	return data, err
}
