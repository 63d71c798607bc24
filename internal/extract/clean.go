// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseResponse turns a model's raw text into an AIResponse. Models are
// prompted to answer with a bare JSON array, but in practice they wrap it
// in code fences or surround it with prose, so the payload is cleaned
// before parsing. A single JSON object is accepted as a one-element array.
func parseResponse(raw, model string) (AIResponse, error) {
	cleaned := stripCodeFences(raw)

	var records []AIRecord
	if err := json.Unmarshal([]byte(cleaned), &records); err == nil {
		return AIResponse{Model: model, Records: records}, nil
	}

	var single AIRecord
	if err := json.Unmarshal([]byte(cleaned), &single); err == nil && single.PAN != "" {
		return AIResponse{Model: model, Records: []AIRecord{single}}, nil
	}

	if arr := findFirstJSONArray(cleaned); arr != "" {
		if err := json.Unmarshal([]byte(arr), &records); err == nil {
			return AIResponse{Model: model, Records: records}, nil
		}
	}

	return AIResponse{}, fmt.Errorf("no JSON array in model response: %.120q", raw)
}

// stripCodeFences removes markdown code fences like ```json ... ``` that
// models add despite instructions.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl != -1 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
	}

	return strings.TrimSpace(s)
}

// findFirstJSONArray scans for the first balanced top-level JSON array in s.
// Brackets inside JSON strings are skipped. Returns "" when none is found.
func findFirstJSONArray(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			if start != -1 {
				inString = true
			}
		case '[':
			if start == -1 {
				start = i
			}
			depth++
		case ']':
			if start != -1 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
