package workflow

import (
	"encoding/json"
	"sync"

	"github.com/liamcoop/leadscore/rules"
)

// StepStatus is the lifecycle state of a step within one run
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusSkipped   StepStatus = "skipped"
	StatusSucceeded StepStatus = "succeeded"
	StatusFailed    StepStatus = "failed"
	StatusCancelled StepStatus = "cancelled"
)

// Skip and failure reasons recorded on StepResult.Reason
const (
	ReasonConditionNotMet         = "condition_not_met"
	ReasonDependencyNotSatisfied  = "dependency_not_satisfied"
	ReasonWorkflowAborted         = "workflow_aborted"
	ReasonCancelled               = "cancelled"
	ReasonExecutionFailed         = "execution_failed"
	ReasonRequiredConditionFailed = "required_condition_failed"
)

// RunStatus is the overall outcome of a run
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// StepResult is the recorded outcome of one step
type StepResult struct {
	StepID     string          `json:"stepId"`
	RuleName   string          `json:"ruleName"`
	Status     StepStatus      `json:"status"`
	Decision   *rules.Decision `json:"decision,omitempty"`
	Err        error           `json:"-"`
	Reason     string          `json:"reason,omitempty"`
	Attempts   int             `json:"attempts"`
	DurationMs float64         `json:"durationMs"`
}

// MarshalJSON renders Err as a string
func (s *StepResult) MarshalJSON() ([]byte, error) {
	type alias StepResult
	out := struct {
		*alias
		Error string `json:"error,omitempty"`
	}{alias: (*alias)(s)}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}

// Result is the outcome of one workflow run. Steps are in the order they
// reached a final status.
type Result struct {
	RunID      string        `json:"runId"`
	Workflow   string        `json:"workflow"`
	Version    string        `json:"version"`
	Status     RunStatus     `json:"status"`
	Steps      []*StepResult `json:"steps"`
	Aggregate  any           `json:"aggregate,omitempty"`
	Err        error         `json:"-"`
	DurationMs float64       `json:"durationMs"`
}

// MarshalJSON renders Err as a string
func (r *Result) MarshalJSON() ([]byte, error) {
	type alias Result
	out := struct {
		*alias
		Error string `json:"error,omitempty"`
	}{alias: (*alias)(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Step returns the result recorded for id, or nil
func (r *Result) Step(id string) *StepResult {
	for _, s := range r.Steps {
		if s.StepID == id {
			return s
		}
	}
	return nil
}

// Succeeded returns the results of steps that produced a decision
func (r *Result) Succeeded() []*StepResult {
	var out []*StepResult
	for _, s := range r.Steps {
		if s.Status == StatusSucceeded {
			out = append(out, s)
		}
	}
	return out
}

// ledger is the mutable step-result table of a run. Entries start pending
// and are appended to order when they reach a final status, so order is
// first-finished-first-recorded.
type ledger struct {
	mu      sync.RWMutex
	input   rules.Input
	entries map[string]*StepResult
	order   []string
}

func newLedger(def *Definition, input rules.Input) *ledger {
	l := &ledger{
		input:   input,
		entries: make(map[string]*StepResult, len(def.Steps)),
		order:   make([]string, 0, len(def.Steps)),
	}
	for _, s := range def.Steps {
		l.entries[s.ID] = &StepResult{StepID: s.ID, RuleName: s.RuleName, Status: StatusPending}
	}
	return l
}

// finish records a final status for a pending step. A step is recorded once.
func (l *ledger) finish(sr *StepResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.entries[sr.StepID]; ok && cur.Status != StatusPending {
		return
	}
	l.entries[sr.StepID] = sr
	l.order = append(l.order, sr.StepID)
}

// Resolve implements Scope
func (l *ledger) Resolve(raw string) (any, bool) {
	p, err := parsePath(raw)
	if err != nil {
		return nil, false
	}
	if p.root == rootInput {
		return walk(l.input, p.segments)
	}

	l.mu.RLock()
	sr := l.entries[p.step]
	l.mu.RUnlock()
	return resolveStep(sr, p.segments)
}

// Status implements Scope
func (l *ledger) Status(stepID string) StepStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if sr, ok := l.entries[stepID]; ok {
		return sr.Status
	}
	return ""
}

// pending lists steps without a final status in declaration order
func (l *ledger) pending(def *Definition) []Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Step
	for _, s := range def.Steps {
		if l.entries[s.ID].Status == StatusPending {
			out = append(out, s)
		}
	}
	return out
}

// ordered returns step results in recorded order
func (l *ledger) ordered() []*StepResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*StepResult, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id])
	}
	return out
}
