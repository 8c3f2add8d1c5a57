package workflow

import (
	"fmt"
	"strings"

	"github.com/liamcoop/leadscore/rules"
)

const (
	rootInput   = "input"
	rootResults = "results"
)

// path is a parsed $.input.a.b or $.results.<step>.<field> reference
type path struct {
	root     string
	step     string
	segments []string
}

func parsePath(raw string) (path, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "$.")
	if trimmed == "" {
		return path{}, fmt.Errorf("empty path")
	}
	parts := strings.Split(trimmed, ".")
	for _, p := range parts {
		if p == "" {
			return path{}, fmt.Errorf("path %q has an empty segment", raw)
		}
	}

	switch parts[0] {
	case rootInput:
		return path{root: rootInput, segments: parts[1:]}, nil
	case rootResults:
		if len(parts) < 2 {
			return path{}, fmt.Errorf("path %q must name a step", raw)
		}
		return path{root: rootResults, step: parts[1], segments: parts[2:]}, nil
	}
	return path{}, fmt.Errorf("path %q must start with $.input or $.results", raw)
}

// isPath reports whether a mapping source is a path rather than a literal
func isPath(s string) bool {
	return strings.HasPrefix(s, "$.")
}

// resolveStep reads a field from a recorded step. status, error and reason
// are always readable; decision fields only once the step succeeded.
func resolveStep(sr *StepResult, segments []string) (any, bool) {
	if sr == nil {
		return nil, false
	}
	if len(segments) == 0 {
		if sr.Decision == nil {
			return nil, false
		}
		return sr.Decision, true
	}

	switch segments[0] {
	case "status":
		return string(sr.Status), len(segments) == 1
	case "reason":
		return sr.Reason, len(segments) == 1 && sr.Reason != ""
	case "error":
		if sr.Err == nil || len(segments) != 1 {
			return nil, false
		}
		return sr.Err.Error(), true
	case "decision":
		segments = segments[1:]
		if len(segments) == 0 {
			return sr.Decision, sr.Decision != nil
		}
	}

	if sr.Decision == nil {
		return nil, false
	}
	v, ok := sr.Decision.Field(segments[0])
	if !ok {
		return nil, false
	}
	return walk(v, segments[1:])
}

// walk descends into nested maps
func walk(v any, segments []string) (any, bool) {
	for _, seg := range segments {
		var ok bool
		switch m := v.(type) {
		case map[string]any:
			v, ok = m[seg]
		case rules.Input:
			v, ok = m[seg]
		case map[string]string:
			v, ok = m[seg]
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
	}
	return v, v != nil
}
