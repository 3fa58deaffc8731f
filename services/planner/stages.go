// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"fmt"
	"strings"
	"time"
)

// DefaultStageTimeout bounds one stage end to end, across the whole backend
// chain.
const DefaultStageTimeout = 90 * time.Second

// StageInput is everything a stage prompt may draw on: the run request plus
// all results produced so far, in configured order.
type StageInput struct {
	Niche  string
	Count  int
	Corpus []string
	Prior  []StageResult
}

// Stage is one named analysis step of the pipeline.
type Stage struct {
	// Name identifies the stage in results and progress messages.
	Name string

	// Timeout bounds the stage. Zero means DefaultStageTimeout.
	Timeout time.Duration

	// BuildPrompt renders the stage prompt from the accumulated input.
	BuildPrompt func(in StageInput) string

	// Parse validates the decoded backend value and maps it into the
	// stage's semantic output. A parse error marks the stage degraded.
	Parse func(value any) (map[string]any, error)
}

// DefaultStages returns the production analysis stage order. The synthesis
// step is not a Stage; the Sequencer runs it last with its own schema.
func DefaultStages() []Stage {
	return []Stage{
		{
			Name: "corpus_analysis",
			BuildPrompt: func(in StageInput) string {
				var b strings.Builder
				fmt.Fprintf(&b, "Analyze the existing content library for the %q niche.\n", in.Niche)
				b.WriteString("Existing titles:\n")
				for _, t := range in.Corpus {
					fmt.Fprintf(&b, "- %s\n", t)
				}
				b.WriteString("\nReturn JSON: {\"themes\": [list of covered themes], \"summary\": \"one-paragraph coverage summary\"}")
				return b.String()
			},
			Parse: func(value any) (map[string]any, error) {
				obj, ok := value.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("expected object")
				}
				themes, err := stringList(obj["themes"])
				if err != nil {
					return nil, fmt.Errorf("themes: %w", err)
				}
				summary, _ := obj["summary"].(string)
				return map[string]any{"themes": themes, "summary": summary}, nil
			},
		},
		{
			Name: "gap_analysis",
			BuildPrompt: func(in StageInput) string {
				var b strings.Builder
				fmt.Fprintf(&b, "Given the theme coverage below for the %q niche, identify underserved topic gaps competitors likely cover.\n", in.Niche)
				writePriorContext(&b, in.Prior)
				b.WriteString("\nReturn JSON: {\"gaps\": [list of gap topics]}")
				return b.String()
			},
			Parse: func(value any) (map[string]any, error) {
				obj, ok := value.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("expected object")
				}
				gaps, err := stringList(obj["gaps"])
				if err != nil {
					return nil, fmt.Errorf("gaps: %w", err)
				}
				return map[string]any{"gaps": gaps}, nil
			},
		},
		{
			Name: "trend_discovery",
			BuildPrompt: func(in StageInput) string {
				var b strings.Builder
				fmt.Fprintf(&b, "List currently rising search trends relevant to the %q niche.\n", in.Niche)
				writePriorContext(&b, in.Prior)
				b.WriteString("\nReturn JSON: {\"trends\": [list of trending topics]}")
				return b.String()
			},
			Parse: func(value any) (map[string]any, error) {
				obj, ok := value.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("expected object")
				}
				trends, err := stringList(obj["trends"])
				if err != nil {
					return nil, fmt.Errorf("trends: %w", err)
				}
				return map[string]any{"trends": trends}, nil
			},
		},
	}
}

// writePriorContext appends the successful prior stage outputs as context.
// Degraded stages are skipped; partial context beats none.
func writePriorContext(b *strings.Builder, prior []StageResult) {
	for _, res := range prior {
		if !res.Success || len(res.Output) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n%s:\n", res.Name)
		for key, val := range res.Output {
			switch v := val.(type) {
			case []string:
				fmt.Fprintf(b, "  %s: %s\n", key, strings.Join(v, "; "))
			case string:
				if v != "" {
					fmt.Fprintf(b, "  %s: %s\n", key, v)
				}
			}
		}
	}
}

// stringList coerces a decoded JSON value into []string, dropping non-string
// elements. A missing value yields an empty list; a non-list is an error.
func stringList(v any) ([]string, error) {
	if v == nil {
		return []string{}, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		if s, ok := el.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out, nil
}

// decodeCandidates maps the synthesis stage's JSON array into CandidateItems.
// Unknown priorities default to medium; secondary keywords are deduplicated
// preserving their order.
func decodeCandidates(arr []any) ([]CandidateItem, error) {
	items := make([]CandidateItem, 0, len(arr))
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("candidate %d: expected object, got %T", i, el)
		}
		title, _ := obj["title"].(string)
		if strings.TrimSpace(title) == "" {
			return nil, fmt.Errorf("candidate %d: missing title", i)
		}
		keyword, _ := obj["primary_keyword"].(string)

		secondary, err := stringList(obj["secondary_keywords"])
		if err != nil {
			return nil, fmt.Errorf("candidate %d: secondary_keywords: %w", i, err)
		}
		seen := make(map[string]bool, len(secondary))
		deduped := secondary[:0]
		for _, kw := range secondary {
			key := Normalize(kw)
			if seen[key] {
				continue
			}
			seen[key] = true
			deduped = append(deduped, kw)
		}

		contentType, _ := obj["content_type"].(string)
		rationale, _ := obj["rationale"].(string)
		fromTrend, _ := obj["from_trend"].(bool)
		fromGap, _ := obj["from_gap"].(bool)

		priority := PriorityMedium
		switch p, _ := obj["priority"].(string); strings.ToLower(p) {
		case string(PriorityHigh):
			priority = PriorityHigh
		case string(PriorityLow):
			priority = PriorityLow
		}

		items = append(items, CandidateItem{
			Title:             strings.TrimSpace(title),
			PrimaryKeyword:    strings.TrimSpace(keyword),
			SecondaryKeywords: deduped,
			ContentType:       contentType,
			Priority:          priority,
			Rationale:         rationale,
			FromTrend:         fromTrend,
			FromGap:           fromGap,
		})
	}
	return items, nil
}
