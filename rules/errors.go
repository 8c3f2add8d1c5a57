package rules

import (
	"fmt"
	"strings"
)

// RuleNotFoundError is returned when no rule (or no such version) is registered
type RuleNotFoundError struct {
	Name    string
	Version string
}

func (e *RuleNotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("rule %s@%s not found", e.Name, e.Version)
	}
	return fmt.Sprintf("rule %s not found", e.Name)
}

// DuplicateRuleError is returned when (name, version) is already registered
type DuplicateRuleError struct {
	Name    string
	Version string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule %s@%s already registered", e.Name, e.Version)
}

// InvalidRuleError is returned when a definition does not conform to the registry contract
type InvalidRuleError struct {
	Name   string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule %q: %s", e.Name, e.Reason)
}

// ValidationError lists every required field missing from an input and
// every field the rule rejected as malformed
type ValidationError struct {
	Rule    string
	Errors  []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Errors) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Errors, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, "; "))
	}
	return fmt.Sprintf("validation failed for rule %s: %s", e.Rule, strings.Join(parts, "; "))
}

// Details returns the missing and malformed field messages together
func (e *ValidationError) Details() []string {
	return append(append([]string(nil), e.Errors...), e.Invalid...)
}

// RuleExecutionError wraps a failure raised by a rule's evaluation function
type RuleExecutionError struct {
	Rule    string
	Version string
	Cause   error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %s@%s execution failed: %v", e.Rule, e.Version, e.Cause)
}

func (e *RuleExecutionError) Unwrap() error {
	return e.Cause
}
