// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideaplane/ideaplane/services/batch"
	"github.com/ideaplane/ideaplane/services/llm"
	"github.com/ideaplane/ideaplane/services/orchestrator/handlers"
	"github.com/ideaplane/ideaplane/services/planner"
)

type noopClient struct{}

func (noopClient) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return `{"draft": "text"}`, nil
}

func testEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fallback, err := llm.NewFallbackClient(
		[]llm.Backend{{ID: "stub", Client: noopClient{}}}, time.Second, nil, nil)
	require.NoError(t, err)

	emitter := planner.NewEmitter(32, nil)
	seq, err := planner.NewSequencer(fallback, emitter, planner.Deduplicator{}, nil, nil)
	require.NoError(t, err)

	store, err := batch.NewStore(batch.InMemoryStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctrl, err := batch.NewController(fallback, store, batch.Hooks{}, nil)
	require.NoError(t, err)

	r := gin.New()
	Register(r, Deps{
		Plan:  handlers.NewPlanHandler(seq, emitter, planner.StaticCorpus(nil), nil, nil),
		Batch: handlers.NewBatchHandler(ctrl, nil),
	})
	return r
}

func TestRegisteredRoutes(t *testing.T) {
	r := testEngine(t)

	want := map[string]string{
		"/health":                       http.MethodGet,
		"/metrics":                      http.MethodGet,
		"/api/v1/plan/stream":           http.MethodPost,
		"/api/v1/batch/start":           http.MethodPost,
		"/api/v1/batch/pause":           http.MethodPost,
		"/api/v1/batch/:jobId/progress": http.MethodGet,
	}

	got := make(map[string]string)
	for _, route := range r.Routes() {
		got[route.Path] = route.Method
	}
	for path, method := range want {
		assert.Equal(t, method, got[path], path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	r := testEngine(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	r := testEngine(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
