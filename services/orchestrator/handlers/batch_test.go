// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideaplane/ideaplane/services/batch"
	"github.com/ideaplane/ideaplane/services/llm"
)

// slowClient delays each generation so tests can observe a generating job.
type slowClient struct {
	delay time.Duration
}

func (s *slowClient) Generate(ctx context.Context, _ string, _ llm.GenerationParams) (string, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return `{"draft": "text"}`, nil
}

func newBatchRouter(t *testing.T, client llm.LLMClient) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fallback, err := llm.NewFallbackClient(
		[]llm.Backend{{ID: "stub", Client: client}}, 5*time.Second, nil, nil)
	require.NoError(t, err)

	store, err := batch.NewStore(batch.InMemoryStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctrl, err := batch.NewController(fallback, store, batch.Hooks{}, nil)
	require.NoError(t, err)

	h := NewBatchHandler(ctrl, nil)
	r := gin.New()
	r.POST("/api/v1/batch/start", h.Start)
	r.POST("/api/v1/batch/pause", h.Pause)
	r.GET("/api/v1/batch/:jobId/progress", h.Progress)
	return r
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func getJSON(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// pollUntilDone polls the progress endpoint until the job stops generating.
func pollUntilDone(t *testing.T, r *gin.Engine, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := getJSON(r, "/api/v1/batch/"+jobID+"/progress")
		require.Equal(t, http.StatusOK, rec.Code)

		var prog map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prog))
		if prog["isGenerating"] == false {
			return prog
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return nil
}

func TestBatchStartAndProgress(t *testing.T) {
	r := newBatchRouter(t, &slowClient{})

	rec := postJSON(r, "/api/v1/batch/start",
		`{"items": [{"title": "Item 01"}, {"title": "Item 02"}], "batchSize": 1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID, _ := resp["jobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "generating", resp["status"])

	prog := pollUntilDone(t, r, jobID)
	assert.Equal(t, float64(100), prog["percentage"])
	assert.Equal(t, float64(2), prog["generated"])
	assert.Equal(t, float64(0), prog["failed"])
}

func TestBatchStartWhileGeneratingIsIdempotent(t *testing.T) {
	r := newBatchRouter(t, &slowClient{delay: 50 * time.Millisecond})

	rec := postJSON(r, "/api/v1/batch/start",
		`{"items": [{"title": "Item 01"}, {"title": "Item 02"}, {"title": "Item 03"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID := resp["jobId"].(string)

	// Starting the same job again is a no-op, not a second executor.
	again := postJSON(r, "/api/v1/batch/start", fmt.Sprintf(`{"jobId": %q}`, jobID))
	assert.Equal(t, http.StatusOK, again.Code)

	pollUntilDone(t, r, jobID)
}

func TestBatchPauseLifecycle(t *testing.T) {
	r := newBatchRouter(t, &slowClient{delay: 30 * time.Millisecond})

	rec := postJSON(r, "/api/v1/batch/start",
		`{"items": [{"title": "Item 01"}, {"title": "Item 02"}, {"title": "Item 03"}, {"title": "Item 04"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID := resp["jobId"].(string)

	pause := postJSON(r, "/api/v1/batch/pause", fmt.Sprintf(`{"jobId": %q}`, jobID))
	require.Equal(t, http.StatusOK, pause.Code)
	assert.Contains(t, pause.Body.String(), "paused")

	prog := pollUntilDone(t, r, jobID)
	generated := int(prog["generated"].(float64))
	failed := int(prog["failed"].(float64))
	assert.Less(t, generated+failed, 4)

	// Resume and run to completion.
	resume := postJSON(r, "/api/v1/batch/start", fmt.Sprintf(`{"jobId": %q}`, jobID))
	require.Equal(t, http.StatusAccepted, resume.Code)

	final := pollUntilDone(t, r, jobID)
	assert.Equal(t, float64(100), final["percentage"])
	assert.Equal(t, float64(4), final["generated"])
}

func TestBatchPauseWithoutActiveJob(t *testing.T) {
	r := newBatchRouter(t, &slowClient{})
	rec := postJSON(r, "/api/v1/batch/pause", `{"jobId": "nope"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBatchProgressUnknownJob(t *testing.T) {
	r := newBatchRouter(t, &slowClient{})
	rec := getJSON(r, "/api/v1/batch/nope/progress")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchStartValidation(t *testing.T) {
	r := newBatchRouter(t, &slowClient{})

	rec := postJSON(r, "/api/v1/batch/start", `{"items": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(r, "/api/v1/batch/start", `{"jobId": "missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
