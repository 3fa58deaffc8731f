// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the HTTP surface onto a gin engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ideaplane/ideaplane/services/orchestrator/handlers"
)

// Deps carries the constructed handlers into route registration.
type Deps struct {
	Plan  *handlers.PlanHandler
	Batch *handlers.BatchHandler
}

// Register mounts all routes on the engine.
func Register(r *gin.Engine, deps Deps) {
	r.GET("/health", handlers.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/plan/stream", deps.Plan.Stream)

		b := v1.Group("/batch")
		{
			b.POST("/start", deps.Batch.Start)
			b.POST("/pause", deps.Batch.Pause)
			b.GET("/:jobId/progress", deps.Batch.Progress)
		}
	}
}
