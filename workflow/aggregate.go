package workflow

import (
	"fmt"

	"github.com/liamcoop/leadscore/rules"
)

// Built-in fold names understood by the catalog
const (
	FoldHighestConfidence = "highest_confidence"
	FoldMergeReasoning    = "merge_reasoning"
	FoldDecisions         = "decisions"
)

// Pick is the output of HighestConfidence
type Pick struct {
	StepID   string          `json:"stepId"`
	RuleName string          `json:"ruleName"`
	Decision *rules.Decision `json:"decision"`
}

// HighestConfidence returns the succeeded step with the highest confidence.
// Ties go to the lowest step id.
func HighestConfidence(steps []*StepResult) (any, error) {
	var best *StepResult
	for _, s := range steps {
		if s.Status != StatusSucceeded || s.Decision == nil {
			continue
		}
		if best == nil || s.Decision.Confidence > best.Decision.Confidence ||
			(s.Decision.Confidence == best.Decision.Confidence && s.StepID < best.StepID) {
			best = s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no step produced a decision")
	}
	return &Pick{StepID: best.StepID, RuleName: best.RuleName, Decision: best.Decision}, nil
}

// MergeReasoning concatenates the reasoning of every succeeded step in
// recorded order, each line prefixed with its step id
func MergeReasoning(steps []*StepResult) (any, error) {
	var out []string
	for _, s := range steps {
		if s.Status != StatusSucceeded || s.Decision == nil {
			continue
		}
		for _, line := range s.Decision.Reasoning {
			out = append(out, s.StepID+": "+line)
		}
	}
	return out, nil
}

// Decisions maps each succeeded step id to its decision
func Decisions(steps []*StepResult) (any, error) {
	out := make(map[string]*rules.Decision, len(steps))
	for _, s := range steps {
		if s.Status == StatusSucceeded && s.Decision != nil {
			out[s.StepID] = s.Decision
		}
	}
	return out, nil
}
