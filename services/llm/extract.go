// Copyright (C) 2026 Ideaplane Labs (oss@ideaplane.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"encoding/json"
	"fmt"
)

// ExtractJSON scans text for the first balanced JSON object or array span.
//
// # Description
//
// Generation backends frequently wrap their JSON answer in prose, markdown
// fences, or trailing commentary. ExtractJSON locates the first `{` or `[`
// and returns the span up to its balancing close bracket, tracking string
// literals and escape sequences so brackets inside strings do not confuse
// the scan.
//
// # Inputs
//
//   - text: Raw backend output.
//
// # Outputs
//
//   - string: The candidate JSON span.
//   - bool: False if no balanced span was found.
//
// # Limitations
//
//   - Returns the first span only; any second JSON blob in the text is
//     ignored.
//   - The span is not validated here; callers unmarshal it themselves.
func ExtractJSON(text string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeJSON extracts and unmarshals the first JSON span in text.
//
// # Description
//
// Combines ExtractJSON with json.Unmarshal. wantArray controls the expected
// top-level shape; a shape mismatch is reported as an error so the caller
// can treat the response as malformed.
//
// # Inputs
//
//   - text: Raw backend output.
//   - wantArray: True when the caller expects a top-level JSON array.
//
// # Outputs
//
//   - any: map[string]any or []any depending on shape.
//   - error: Non-nil if no span was found, the span is invalid JSON, or the
//     shape does not match.
func DecodeJSON(text string, wantArray bool) (any, error) {
	span, ok := ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object or array found in response")
	}

	if wantArray {
		var arr []any
		if err := json.Unmarshal([]byte(span), &arr); err != nil {
			return nil, fmt.Errorf("unmarshal array: %w", err)
		}
		return arr, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(span), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}
