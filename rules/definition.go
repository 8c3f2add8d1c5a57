package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Definition is a named, versioned, pure scoring rule.
// Evaluate must be deterministic and must not perform I/O.
type Definition interface {
	Name() string
	Version() string
	RequiredFields() []string
	Evaluate(input Input) (*Decision, error)
}

// Validator is implemented by definitions that check the shape of their
// required fields. The registry calls Validate once every required field is
// present; a non-empty result becomes a ValidationError.
type Validator interface {
	Validate(input Input) []string
}

// Func adapts a plain function into a Definition
type Func struct {
	RuleName    string
	RuleVersion string
	Required    []string
	Fn          func(input Input) (*Decision, error)
}

func (f *Func) Name() string             { return f.RuleName }
func (f *Func) Version() string          { return f.RuleVersion }
func (f *Func) RequiredFields() []string { return f.Required }

func (f *Func) Evaluate(input Input) (*Decision, error) {
	return f.Fn(input)
}

var ruleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// checkDefinition rejects definitions that cannot be served by the registry
func checkDefinition(def Definition) error {
	if def == nil {
		return &InvalidRuleError{Reason: "definition is nil"}
	}
	name := def.Name()
	if name == "" || len(name) > 100 || !ruleNamePattern.MatchString(name) {
		return &InvalidRuleError{Name: name, Reason: "name must match ^[a-z][a-z0-9_]*$ and be at most 100 characters"}
	}
	if !semver.IsValid(canonicalVersion(def.Version())) {
		return &InvalidRuleError{Name: name, Reason: fmt.Sprintf("version %q is not a semantic version", def.Version())}
	}
	for _, field := range def.RequiredFields() {
		if strings.TrimSpace(field) == "" {
			return &InvalidRuleError{Name: name, Reason: "required field names cannot be empty"}
		}
	}
	if f, ok := def.(*Func); ok && f.Fn == nil {
		return &InvalidRuleError{Name: name, Reason: "evaluation function is nil"}
	}
	return nil
}

// canonicalVersion accepts "1.2.0" as well as "v1.2.0"
func canonicalVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Present reports whether a value counts as supplied: non-nil, and non-empty
// for strings, slices and maps
func Present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// Has reports whether key is present in the input
func (in Input) Has(key string) bool {
	return Present(in[key])
}

// String returns the input value as a trimmed string
func (in Input) String(key string) (string, bool) {
	v, ok := in[key]
	if !ok || !Present(v) {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case fmt.Stringer:
		return t.String(), true
	}
	return fmt.Sprint(v), true
}

// Number returns the input value as a float64.
// Numeric strings are accepted; anything else reports ok=false.
func (in Input) Number(key string) (float64, bool) {
	v, ok := in[key]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// StringList returns the input value as a list of strings
func (in Input) StringList(key string) []string {
	switch t := in[key].(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

// ToFloat converts the numeric types produced by JSON, YAML and CEL decoding
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
