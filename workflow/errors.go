package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/leadscore/rules"
)

// ErrCancelled marks steps that never ran because the caller's context ended
var ErrCancelled = errors.New("workflow cancelled")

// CyclicDependencyError is returned before any step runs when step
// dependencies form a cycle
type CyclicDependencyError struct {
	Workflow string
	Steps    []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("workflow %s has cyclic dependencies between steps: %s",
		e.Workflow, strings.Join(e.Steps, ", "))
}

// InvalidWorkflowError reports a malformed workflow definition
type InvalidWorkflowError struct {
	Workflow string
	Reason   string
}

func (e *InvalidWorkflowError) Error() string {
	return fmt.Sprintf("invalid workflow %s: %s", e.Workflow, e.Reason)
}

// WorkflowNotFoundError is returned by the catalog for unknown names
type WorkflowNotFoundError struct {
	Name string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %s not found", e.Name)
}

// RequiredStepConditionFailedError aborts a run when a non-optional step's
// condition is false
type RequiredStepConditionFailedError struct {
	StepID string
}

func (e *RequiredStepConditionFailedError) Error() string {
	return fmt.Sprintf("condition failed for required step %s", e.StepID)
}

// DependencyNotSatisfiedError is the skip reason of a step whose required
// dependency did not succeed
type DependencyNotSatisfiedError struct {
	StepID     string
	Dependency string
	Status     StepStatus
}

func (e *DependencyNotSatisfiedError) Error() string {
	return fmt.Sprintf("step %s: dependency %s is %s", e.StepID, e.Dependency, e.Status)
}

// ConditionNotMetError marks an optional step whose condition was false when
// the workflow does not skip on condition failure
type ConditionNotMetError struct {
	StepID string
}

func (e *ConditionNotMetError) Error() string {
	return fmt.Sprintf("condition not met for step %s", e.StepID)
}

// MappingError reports an input mapping that cannot be applied
type MappingError struct {
	StepID string
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("step %s: input mapping for %s: %s", e.StepID, e.Field, e.Reason)
}

// StepTimeoutError is one attempt exceeding the step timeout
type StepTimeoutError struct {
	StepID  string
	Timeout time.Duration
	Attempt int
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %s attempt %d timed out after %s", e.StepID, e.Attempt, e.Timeout)
}

func (e *StepTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// StepFailedError aborts a run when a required step fails
type StepFailedError struct {
	StepID string
	Cause  error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("required step %s failed: %v", e.StepID, e.Cause)
}

func (e *StepFailedError) Unwrap() error {
	return e.Cause
}

// IsRetryable classifies errors for the retry policy: rule execution errors
// and attempt timeouts retry; validation, not-found and cancellation never do
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var timeout *StepTimeoutError
	if errors.As(err, &timeout) {
		return true
	}

	var validation *rules.ValidationError
	var notFound *rules.RuleNotFoundError
	if errors.As(err, &validation) || errors.As(err, &notFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var execErr *rules.RuleExecutionError
	return errors.As(err, &execErr)
}
