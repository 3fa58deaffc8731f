// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// Failure Taxonomy
// =============================================================================

// FailureKind classifies why a generation attempt failed.
type FailureKind string

const (
	// FailureTimeout means the attempt exceeded its per-attempt budget.
	FailureTimeout FailureKind = "timeout"

	// FailureMalformed means the backend responded but the response could
	// not be parsed into the expected JSON shape.
	FailureMalformed FailureKind = "malformed"

	// FailureTransport covers network and HTTP-level errors.
	FailureTransport FailureKind = "transport"
)

// Failure is the typed result of an exhausted fallback chain.
//
// # Description
//
// Failure is a value, not a panic: callers must substitute a safe default
// when they receive one. It carries the last backend tried and the last
// error observed so operators can see which backend gave up.
type Failure struct {
	// Backend is the ID of the last backend attempted.
	Backend string

	// Kind classifies the last error.
	Kind FailureKind

	// Err is the last underlying error.
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation failed (backend=%s, kind=%s): %v", f.Backend, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// =============================================================================
// Request / Result
// =============================================================================

// Request describes one structured generation call.
type Request struct {
	// Prompt is the fully rendered prompt text.
	Prompt string

	// Params are forwarded to every backend attempt unchanged.
	Params GenerationParams

	// WantArray is true when the expected top-level JSON shape is an array.
	WantArray bool

	// Validate, if non-nil, checks the decoded value against the caller's
	// expected schema. A validation error marks the response malformed and
	// passes control to the next backend.
	Validate func(value any) error
}

// ParsedResult is a successfully decoded backend response.
type ParsedResult struct {
	// Backend is the ID of the backend that produced the result.
	Backend string

	// Raw is the unmodified backend output.
	Raw string

	// Value is the decoded JSON value (map[string]any or []any).
	Value any
}

// =============================================================================
// Fallback Client
// =============================================================================

// FallbackClient tries an ordered chain of backends for each call.
//
// # Description
//
// Each attempt is allotted the configured per-attempt timeout. On timeout,
// transport error, or a malformed response the next backend in the chain is
// tried. There are no retries beyond the chain itself: inter-call spacing is
// the Pacer's job, and retry storms inside a single call are deliberately
// not a feature.
//
// # Thread Safety
//
// FallbackClient is immutable after construction and safe for concurrent use.
type FallbackClient struct {
	chain   []Backend
	timeout time.Duration
	pacer   Pacer
	logger  *slog.Logger
}

// DefaultAttemptTimeout bounds a single backend attempt.
const DefaultAttemptTimeout = 60 * time.Second

// NewFallbackClient creates a fallback client over an ordered backend chain.
//
// # Inputs
//
//   - chain: Backends in preference order. Must not be empty.
//   - timeout: Per-attempt budget. Zero means DefaultAttemptTimeout.
//   - pacer: Optional inter-call spacing. Nil disables pacing.
//   - logger: Logger for fallthrough warnings. Nil uses slog.Default().
//
// # Outputs
//
//   - *FallbackClient: Configured client.
//   - error: Non-nil if the chain is empty or contains duplicate IDs.
func NewFallbackClient(chain []Backend, timeout time.Duration, pacer Pacer,
	logger *slog.Logger) (*FallbackClient, error) {

	if len(chain) == 0 {
		return nil, errors.New("backend chain must not be empty")
	}
	seen := make(map[string]bool, len(chain))
	for _, b := range chain {
		if b.ID == "" || b.Client == nil {
			return nil, errors.New("backend chain entries need an ID and a client")
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("duplicate backend ID %q in chain", b.ID)
		}
		seen[b.ID] = true
	}
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackClient{
		chain:   chain,
		timeout: timeout,
		pacer:   pacer,
		logger:  logger,
	}, nil
}

// Primary returns the ID of the first backend in the chain.
func (c *FallbackClient) Primary() string { return c.chain[0].ID }

// Invoke runs one generation call through the fallback chain.
//
// # Description
//
// Attempts backends in chain order. Every attempt is paced (if a Pacer is
// configured), bounded by the per-attempt timeout, and parsed via DecodeJSON.
// The first attempt that yields a valid value wins. If all backends fail the
// typed Failure carries the last error; it never panics and never escapes as
// a plain error.
//
// # Inputs
//
//   - ctx: Caller context. Cancellation stops the chain between attempts.
//   - req: The structured generation request.
//
// # Outputs
//
//   - *ParsedResult: Non-nil on success.
//   - *Failure: Non-nil when the whole chain is exhausted.
func (c *FallbackClient) Invoke(ctx context.Context, req Request) (*ParsedResult, *Failure) {
	ctx, span := tracer.Start(ctx, "FallbackClient.Invoke")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.chain_length", len(c.chain)))

	var last *Failure
	for _, backend := range c.chain {
		if ctx.Err() != nil {
			if last == nil {
				last = &Failure{Backend: backend.ID, Kind: FailureTransport, Err: ctx.Err()}
			}
			break
		}

		if c.pacer != nil {
			if err := c.pacer.Wait(ctx, backend.ID); err != nil {
				last = &Failure{Backend: backend.ID, Kind: FailureTransport, Err: err}
				continue
			}
		}

		result, failure := c.attempt(ctx, backend, req)
		if failure == nil {
			span.SetAttributes(attribute.String("llm.backend", backend.ID))
			return result, nil
		}

		c.logger.Warn("backend attempt failed, falling through",
			slog.String("backend", backend.ID),
			slog.String("kind", string(failure.Kind)),
			slog.String("error", failure.Err.Error()),
		)
		last = failure
	}

	span.SetStatus(codes.Error, "all backends exhausted")
	return nil, last
}

// attempt runs a single backend call under the per-attempt timeout.
func (c *FallbackClient) attempt(ctx context.Context, backend Backend, req Request) (*ParsedResult, *Failure) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := backend.Client.Generate(attemptCtx, req.Prompt, req.Params)
	if err != nil {
		kind := FailureTransport
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded {
			kind = FailureTimeout
		}
		return nil, &Failure{Backend: backend.ID, Kind: kind, Err: err}
	}

	value, err := DecodeJSON(raw, req.WantArray)
	if err != nil {
		return nil, &Failure{Backend: backend.ID, Kind: FailureMalformed, Err: err}
	}

	if req.Validate != nil {
		if err := req.Validate(value); err != nil {
			return nil, &Failure{
				Backend: backend.ID,
				Kind:    FailureMalformed,
				Err:     fmt.Errorf("schema validation: %w", err),
			}
		}
	}

	return &ParsedResult{Backend: backend.ID, Raw: raw, Value: value}, nil
}
