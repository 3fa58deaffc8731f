// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"strings"
)

// DefaultDedupThreshold is the Jaccard similarity above which a candidate is
// considered a duplicate of a corpus entry. Tunable per corpus; 0.7 is the
// production default, not a proven optimum.
const DefaultDedupThreshold = 0.7

// minTokenLength filters out short tokens before comparison.
const minTokenLength = 3

// stopWords are high-frequency filler words excluded from token sets so that
// near-duplicate titles differing only in connectives still score high.
var stopWords = map[string]struct{}{
	"the": {}, "for": {}, "and": {}, "with": {}, "from": {},
	"are": {}, "was": {}, "has": {}, "how": {}, "why": {},
	"what": {}, "that": {}, "this": {}, "your": {},
}

// Normalize lowercases s, strips every character outside [a-z0-9 ], and
// collapses runs of whitespace to single spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// tokenSet returns the set of normalized whitespace-delimited tokens of
// length >= minTokenLength, minus stop words.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(Normalize(s)) {
		if len(tok) < minTokenLength {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Similarity computes the Jaccard index over the token sets of a and b.
//
// # Description
//
// |A∩B| / |A∪B| over normalized tokens. Defined as 0 when either token set
// is empty. Symmetric, bounded to [0,1], and 1 for identical non-empty
// inputs.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// Deduplicator filters candidate items against an existing corpus.
//
// # Description
//
// A candidate is a duplicate of a corpus entry when the similarity of its
// title OR its primary keyword against that entry exceeds Threshold. The
// deduplicator is stateless and side-effect free: the corpus is fixed for
// the duration of one Filter pass and filtering is idempotent.
type Deduplicator struct {
	// Threshold is the similarity cutoff. Zero means DefaultDedupThreshold.
	Threshold float64
}

func (d Deduplicator) threshold() float64 {
	if d.Threshold <= 0 {
		return DefaultDedupThreshold
	}
	return d.Threshold
}

// IsDuplicateText reports whether text exceeds the threshold against any
// corpus entry.
func (d Deduplicator) IsDuplicateText(text string, corpus []string) bool {
	t := d.threshold()
	for _, existing := range corpus {
		if Similarity(text, existing) > t {
			return true
		}
	}
	return false
}

// IsDuplicate reports whether the candidate's title or primary keyword
// duplicates any corpus entry.
func (d Deduplicator) IsDuplicate(item CandidateItem, corpus []string) bool {
	return d.IsDuplicateText(item.Title, corpus) ||
		d.IsDuplicateText(item.PrimaryKeyword, corpus)
}

// Filter returns the non-duplicate candidates, preserving relative order.
//
// The corpus is not extended with kept candidates during the pass, so
// Filter(Filter(c)) == Filter(c).
func (d Deduplicator) Filter(items []CandidateItem, corpus []string) []CandidateItem {
	kept := make([]CandidateItem, 0, len(items))
	for _, item := range items {
		if d.IsDuplicate(item, corpus) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}
