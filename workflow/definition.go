// Package workflow runs rules as steps of a dependency graph. Steps are gated
// by conditions over earlier results, retried with backoff, bounded by a
// per-attempt timeout and folded into one aggregate by a caller-supplied function.
package workflow

import (
	"fmt"
	"regexp"
	"time"
)

// ExecutionMode selects how independent steps are scheduled
type ExecutionMode string

const (
	// Sequential runs steps one at a time in topological order
	Sequential ExecutionMode = "sequential"
	// ParallelWherePossible runs steps at the same dependency depth concurrently
	ParallelWherePossible ExecutionMode = "parallel-where-possible"
)

// BackoffStrategy shapes the wait between retry attempts
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy bounds re-execution of a failing step. MaxRetries counts
// retries, so a step runs at most MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries int             `json:"maxRetries" yaml:"maxRetries"`
	BackoffMs  int             `json:"backoffMs" yaml:"backoffMs"`
	Strategy   BackoffStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// Config holds the workflow-wide execution settings
type Config struct {
	ExecutionMode ExecutionMode `json:"executionMode" yaml:"executionMode"`
	// TimeoutMs bounds a single step attempt; 0 disables the bound
	TimeoutMs   int         `json:"timeoutMs" yaml:"timeoutMs"`
	RetryPolicy RetryPolicy `json:"retryPolicy" yaml:"retryPolicy"`
	// SkipOnConditionFailure records an optional step whose condition is
	// false as skipped; otherwise it is recorded as failed
	SkipOnConditionFailure bool `json:"skipOnConditionFailure" yaml:"skipOnConditionFailure"`
	// AggregatePartialResults keeps a run with failed optional steps at
	// succeeded and folds results even after an abort
	AggregatePartialResults bool `json:"aggregatePartialResults" yaml:"aggregatePartialResults"`
}

// DefaultConfig is sequential with a 30s step timeout, two fixed 100ms retries
// and condition failures recorded as skips
func DefaultConfig() Config {
	return Config{
		ExecutionMode: Sequential,
		TimeoutMs:     30000,
		RetryPolicy: RetryPolicy{
			MaxRetries: 2,
			BackoffMs:  100,
			Strategy:   BackoffFixed,
		},
		SkipOnConditionFailure: true,
	}
}

func (c Config) stepTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Step is one rule invocation in a workflow.
// InputMapping maps a rule input field to a path ($.input.x or
// $.results.step.field) or a literal; an empty mapping passes the workflow
// input through unchanged.
type Step struct {
	ID           string
	RuleName     string
	InputMapping map[string]string
	Dependencies []string
	Optional     bool
	Condition    Condition
}

// Definition is a named, versioned graph of steps
type Definition struct {
	Name    string
	Version string
	Steps   []Step
	Config  Config
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateIdentifier checks workflow and step names: 1-100 characters of
// letters, digits and underscores, not starting with a digit
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$")
	}
	return nil
}
