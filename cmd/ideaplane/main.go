// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command ideaplane runs the content planning server: the staged idea
// pipeline with SSE progress streaming, plus the checkpointed batch draft
// generator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ideaplane/ideaplane/pkg/logging"
	"github.com/ideaplane/ideaplane/services/batch"
	"github.com/ideaplane/ideaplane/services/llm"
	"github.com/ideaplane/ideaplane/services/orchestrator/handlers"
	"github.com/ideaplane/ideaplane/services/orchestrator/observability"
	"github.com/ideaplane/ideaplane/services/orchestrator/routes"
	"github.com/ideaplane/ideaplane/services/planner"
)

const shutdownTimeout = 15 * time.Second

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("ideaplane")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildBackends constructs the fallback chain in config order.
func buildBackends(cfgs []BackendConfig) ([]llm.Backend, error) {
	backends := make([]llm.Backend, 0, len(cfgs))
	for _, bc := range cfgs {
		var (
			client llm.LLMClient
			err    error
		)
		switch bc.Kind {
		case "ollama":
			client, err = llm.NewOllamaClient(bc.BaseURL, bc.Model)
		case "openai":
			client, err = llm.NewOpenAIClient(os.Getenv(bc.APIKeyEnv), bc.Model)
		default:
			err = fmt.Errorf("unknown backend kind %q", bc.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
		}
		backends = append(backends, llm.Backend{ID: bc.ID, Client: client})
	}
	return backends, nil
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "ideaplane",
		JSON:    cfg.Logging.JSON,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if cfg.Telemetry.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("init OTLP tracer: %w", err)
		}
		defer cleanup(context.Background())
	}

	metrics := observability.InitMetrics()

	backends, err := buildBackends(cfg.Backends)
	if err != nil {
		return err
	}
	scheduler := planner.NewScheduler(cfg.MinInterval())
	fallback, err := llm.NewFallbackClient(backends, cfg.AttemptTimeout(), scheduler, logger.Logger)
	if err != nil {
		return fmt.Errorf("init fallback client: %w", err)
	}

	emitter := planner.NewEmitter(cfg.Pipeline.EventBuffer, logger.Logger)
	dedup := planner.Deduplicator{Threshold: cfg.Pipeline.DedupThreshold}
	sequencer, err := planner.NewSequencer(fallback, emitter, dedup, nil, logger.Logger)
	if err != nil {
		return fmt.Errorf("init sequencer: %w", err)
	}

	store, err := batch.NewStore(batch.StoreConfig{
		Path:       cfg.Batch.CheckpointDir,
		SyncWrites: true,
		Logger:     logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	controller, err := batch.NewController(fallback, store, batch.Hooks{
		OnItem: func(_ string, success bool) {
			metrics.RecordBatchItem(success)
		},
		OnStatus: func(_ string, status batch.Status) {
			metrics.RecordBatchStatus(string(status))
		},
	}, logger.Logger)
	if err != nil {
		return fmt.Errorf("init batch controller: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("ideaplane"))
	routes.Register(router, routes.Deps{
		Plan: handlers.NewPlanHandler(sequencer, emitter,
			planner.StaticCorpus(cfg.Pipeline.Corpus), metrics, logger.Logger),
		Batch: handlers.NewBatchHandler(controller, logger.Logger),
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}

		// Pause active batch jobs at an item boundary so their checkpoints
		// are consistent before the store closes.
		controller.PauseAll()
		if err := controller.AwaitAll(shutdownCtx); err != nil {
			logger.Warn("batch jobs did not stop cleanly", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("ideaplane: %v", err)
	}
}
