package workflow

import (
	"fmt"
	"strings"

	"github.com/liamcoop/leadscore/rules"
)

// Operator is a comparison used by Threshold
type Operator string

const (
	OpGreaterOrEqual Operator = ">="
	OpGreater        Operator = ">"
	OpLessOrEqual    Operator = "<="
	OpLess           Operator = "<"
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
)

func (op Operator) valid() bool {
	switch op {
	case OpGreaterOrEqual, OpGreater, OpLessOrEqual, OpLess, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Condition is a predicate over the execution context deciding whether a
// step runs. It is a closed set: Threshold, Exists, And, Or and
// AllDependenciesExecuted. A nil Condition always passes.
type Condition interface {
	condition()
}

// Threshold compares the value at Path against Value
type Threshold struct {
	Path     string
	Operator Operator
	Value    any
}

// Exists checks whether Path resolves to a non-empty value (Want=true) or not
type Exists struct {
	Path string
	Want bool
}

// And passes when every check passes; evaluation stops at the first false
type And struct {
	Checks []Condition
}

// Or passes when any check passes; evaluation stops at the first true
type Or struct {
	Checks []Condition
}

// AllDependenciesExecuted passes when every named step succeeded
type AllDependenciesExecuted struct {
	RequiredDependencies []string
}

func (Threshold) condition()               {}
func (Exists) condition()                  {}
func (And) condition()                     {}
func (Or) condition()                      {}
func (AllDependenciesExecuted) condition() {}

// Scope is the read view of an execution context that conditions evaluate against
type Scope interface {
	// Resolve reads a $.input.* or $.results.<stepId>.* path
	Resolve(path string) (any, bool)

	// Status returns the status recorded for a step
	Status(stepID string) StepStatus
}

// Evaluate reports whether cond holds in scope. Unresolvable paths make the
// condition false rather than failing.
func Evaluate(cond Condition, scope Scope) bool {
	switch c := cond.(type) {
	case nil:
		return true
	case Threshold:
		v, ok := scope.Resolve(c.Path)
		if !ok {
			return false
		}
		return compare(v, c.Operator, c.Value)
	case *Threshold:
		return Evaluate(*c, scope)
	case Exists:
		v, ok := scope.Resolve(c.Path)
		return (ok && rules.Present(v)) == c.Want
	case *Exists:
		return Evaluate(*c, scope)
	case And:
		for _, check := range c.Checks {
			if !Evaluate(check, scope) {
				return false
			}
		}
		return true
	case *And:
		return Evaluate(*c, scope)
	case Or:
		for _, check := range c.Checks {
			if Evaluate(check, scope) {
				return true
			}
		}
		return false
	case *Or:
		return Evaluate(*c, scope)
	case AllDependenciesExecuted:
		for _, id := range c.RequiredDependencies {
			if scope.Status(id) != StatusSucceeded {
				return false
			}
		}
		return true
	case *AllDependenciesExecuted:
		return Evaluate(*c, scope)
	}
	return false
}

// compare applies op numerically when both sides are numbers; otherwise only
// equality operators apply, over the string forms
func compare(actual any, op Operator, expected any) bool {
	a, aNum := rules.ToFloat(actual)
	b, bNum := rules.ToFloat(expected)
	if aNum && bNum && !isString(actual) && !isString(expected) {
		switch op {
		case OpGreaterOrEqual:
			return a >= b
		case OpGreater:
			return a > b
		case OpLessOrEqual:
			return a <= b
		case OpLess:
			return a < b
		case OpEqual:
			return a == b
		case OpNotEqual:
			return a != b
		}
		return false
	}

	switch op {
	case OpEqual:
		return fmt.Sprint(actual) == fmt.Sprint(expected)
	case OpNotEqual:
		return fmt.Sprint(actual) != fmt.Sprint(expected)
	}
	return false
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// references lists the step ids a condition reads
func references(cond Condition) []string {
	var out []string
	var walk func(Condition)
	walk = func(c Condition) {
		switch c := c.(type) {
		case Threshold:
			out = appendRef(out, c.Path)
		case *Threshold:
			out = appendRef(out, c.Path)
		case Exists:
			out = appendRef(out, c.Path)
		case *Exists:
			out = appendRef(out, c.Path)
		case And:
			for _, ch := range c.Checks {
				walk(ch)
			}
		case *And:
			walk(*c)
		case Or:
			for _, ch := range c.Checks {
				walk(ch)
			}
		case *Or:
			walk(*c)
		case AllDependenciesExecuted:
			out = append(out, c.RequiredDependencies...)
		case *AllDependenciesExecuted:
			out = append(out, c.RequiredDependencies...)
		}
	}
	walk(cond)
	return out
}

func appendRef(out []string, path string) []string {
	if p, err := parsePath(path); err == nil && p.root == rootResults {
		out = append(out, p.step)
	}
	return out
}

// checkCondition validates operators and paths of a condition tree
func checkCondition(cond Condition) error {
	switch c := cond.(type) {
	case nil:
		return nil
	case Threshold:
		if !c.Operator.valid() {
			return fmt.Errorf("unknown operator %q", c.Operator)
		}
		_, err := parsePath(c.Path)
		return err
	case *Threshold:
		return checkCondition(*c)
	case Exists:
		_, err := parsePath(c.Path)
		return err
	case *Exists:
		return checkCondition(*c)
	case And:
		return checkChecks("and", c.Checks)
	case *And:
		return checkCondition(*c)
	case Or:
		return checkChecks("or", c.Checks)
	case *Or:
		return checkCondition(*c)
	case AllDependenciesExecuted:
		if len(c.RequiredDependencies) == 0 {
			return fmt.Errorf("all_dependencies_executed needs at least one step")
		}
		return nil
	case *AllDependenciesExecuted:
		return checkCondition(*c)
	}
	return fmt.Errorf("unsupported condition type %T", cond)
}

func checkChecks(kind string, checks []Condition) error {
	if len(checks) == 0 {
		return fmt.Errorf("%s condition needs at least one check", kind)
	}
	for i, ch := range checks {
		if ch == nil {
			return fmt.Errorf("%s check %d is empty", kind, i)
		}
		if err := checkCondition(ch); err != nil {
			return fmt.Errorf("%s check %d: %w", kind, i, err)
		}
	}
	return nil
}

// describe renders a condition for logs
func describe(cond Condition) string {
	switch c := cond.(type) {
	case nil:
		return "always"
	case Threshold:
		return fmt.Sprintf("%s %s %v", c.Path, c.Operator, c.Value)
	case *Threshold:
		return describe(*c)
	case Exists:
		if c.Want {
			return c.Path + " exists"
		}
		return c.Path + " absent"
	case *Exists:
		return describe(*c)
	case And:
		return "(" + joinDescribe(c.Checks, " and ") + ")"
	case *And:
		return describe(*c)
	case Or:
		return "(" + joinDescribe(c.Checks, " or ") + ")"
	case *Or:
		return describe(*c)
	case AllDependenciesExecuted:
		return "succeeded(" + strings.Join(c.RequiredDependencies, ", ") + ")"
	case *AllDependenciesExecuted:
		return describe(*c)
	}
	return fmt.Sprintf("%T", cond)
}

func joinDescribe(checks []Condition, sep string) string {
	parts := make([]string, len(checks))
	for i, c := range checks {
		parts[i] = describe(c)
	}
	return strings.Join(parts, sep)
}
