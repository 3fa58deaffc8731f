// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import "context"

// CorpusProvider exposes the caller's existing content titles/topics. The
// corpus is read-only to the pipeline; the provider owns the real storage.
type CorpusProvider interface {
	// ListExistingTopics returns the ordered existing titles/topics for a
	// scope. Called once per pipeline run.
	ListExistingTopics(ctx context.Context, scopeID string) ([]string, error)
}

// StaticCorpus is a CorpusProvider over a fixed, caller-supplied list.
type StaticCorpus []string

func (s StaticCorpus) ListExistingTopics(_ context.Context, _ string) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

var _ CorpusProvider = (StaticCorpus)(nil)
