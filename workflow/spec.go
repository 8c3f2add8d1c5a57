package workflow

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Condition type names used in workflow files
const (
	ConditionThreshold               = "threshold"
	ConditionExists                  = "exists"
	ConditionAnd                     = "and"
	ConditionOr                      = "or"
	ConditionAllDependenciesExecuted = "all_dependencies_executed"
)

// ConditionSpec is the serialized form of a Condition
type ConditionSpec struct {
	Type                 string          `json:"type" yaml:"type"`
	Path                 string          `json:"path,omitempty" yaml:"path,omitempty"`
	Operator             string          `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value                any             `json:"value,omitempty" yaml:"value,omitempty"`
	Exists               *bool           `json:"exists,omitempty" yaml:"exists,omitempty"`
	Checks               []ConditionSpec `json:"checks,omitempty" yaml:"checks,omitempty"`
	RequiredDependencies []string        `json:"requiredDependencies,omitempty" yaml:"requiredDependencies,omitempty"`
}

// Build converts the spec into a Condition
func (c *ConditionSpec) Build() (Condition, error) {
	if c == nil {
		return nil, nil
	}
	switch c.Type {
	case ConditionThreshold:
		if c.Path == "" {
			return nil, fmt.Errorf("threshold condition needs a path")
		}
		return Threshold{Path: c.Path, Operator: Operator(c.Operator), Value: c.Value}, nil
	case ConditionExists:
		if c.Path == "" {
			return nil, fmt.Errorf("exists condition needs a path")
		}
		if c.Operator != "" && c.Operator != ConditionExists {
			return nil, fmt.Errorf("exists condition does not take operator %q", c.Operator)
		}
		want := true
		if c.Value != nil {
			b, ok := c.Value.(bool)
			if !ok {
				return nil, fmt.Errorf("exists condition value must be a bool, got %v", c.Value)
			}
			want = b
		}
		if c.Exists != nil {
			if c.Value != nil && *c.Exists != want {
				return nil, fmt.Errorf("exists condition sets both exists and value and they disagree")
			}
			want = *c.Exists
		}
		return Exists{Path: c.Path, Want: want}, nil
	case ConditionAnd, ConditionOr:
		checks := make([]Condition, 0, len(c.Checks))
		for i := range c.Checks {
			ch, err := c.Checks[i].Build()
			if err != nil {
				return nil, fmt.Errorf("%s check %d: %w", c.Type, i, err)
			}
			checks = append(checks, ch)
		}
		if c.Type == ConditionAnd {
			return And{Checks: checks}, nil
		}
		return Or{Checks: checks}, nil
	case ConditionAllDependenciesExecuted:
		return AllDependenciesExecuted{RequiredDependencies: c.RequiredDependencies}, nil
	case "":
		return nil, fmt.Errorf("condition type is required")
	}
	return nil, fmt.Errorf("unknown condition type %q", c.Type)
}

// ConditionSpecOf converts a Condition back into its serialized form
func ConditionSpecOf(cond Condition) *ConditionSpec {
	switch c := cond.(type) {
	case Threshold:
		return &ConditionSpec{Type: ConditionThreshold, Path: c.Path, Operator: string(c.Operator), Value: c.Value}
	case *Threshold:
		return ConditionSpecOf(*c)
	case Exists:
		want := c.Want
		return &ConditionSpec{Type: ConditionExists, Path: c.Path, Exists: &want}
	case *Exists:
		return ConditionSpecOf(*c)
	case And:
		return &ConditionSpec{Type: ConditionAnd, Checks: conditionSpecs(c.Checks)}
	case *And:
		return ConditionSpecOf(*c)
	case Or:
		return &ConditionSpec{Type: ConditionOr, Checks: conditionSpecs(c.Checks)}
	case *Or:
		return ConditionSpecOf(*c)
	case AllDependenciesExecuted:
		return &ConditionSpec{Type: ConditionAllDependenciesExecuted, RequiredDependencies: c.RequiredDependencies}
	case *AllDependenciesExecuted:
		return ConditionSpecOf(*c)
	}
	return nil
}

func conditionSpecs(checks []Condition) []ConditionSpec {
	out := make([]ConditionSpec, 0, len(checks))
	for _, ch := range checks {
		if s := ConditionSpecOf(ch); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// StepSpec is the serialized form of a Step
type StepSpec struct {
	ID           string            `json:"id" yaml:"id"`
	RuleName     string            `json:"ruleName" yaml:"ruleName"`
	InputMapping map[string]string `json:"inputMapping,omitempty" yaml:"inputMapping,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Optional     bool              `json:"optional" yaml:"optional"`
	Condition    *ConditionSpec    `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// ConfigSpec is the serialized form of Config. Omitted fields take
// DefaultConfig values.
type ConfigSpec struct {
	ExecutionMode           string       `json:"executionMode,omitempty" yaml:"executionMode,omitempty"`
	TimeoutMs               *int         `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	RetryPolicy             *RetryPolicy `json:"retryPolicy,omitempty" yaml:"retryPolicy,omitempty"`
	SkipOnConditionFailure  *bool        `json:"skipOnConditionFailure,omitempty" yaml:"skipOnConditionFailure,omitempty"`
	AggregatePartialResults bool         `json:"aggregatePartialResults" yaml:"aggregatePartialResults"`
}

// Spec is the serialized form of a Definition plus the name of its fold
type Spec struct {
	Name        string     `json:"name" yaml:"name"`
	Version     string     `json:"version" yaml:"version"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Aggregate   string     `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	Config      ConfigSpec `json:"config" yaml:"config"`
	Steps       []StepSpec `json:"steps" yaml:"steps"`
}

// Build converts the spec into a validated Definition
func (s *Spec) Build() (*Definition, error) {
	cfg := DefaultConfig()
	if s.Config.ExecutionMode != "" {
		cfg.ExecutionMode = ExecutionMode(s.Config.ExecutionMode)
	}
	if s.Config.TimeoutMs != nil {
		cfg.TimeoutMs = *s.Config.TimeoutMs
	}
	if s.Config.RetryPolicy != nil {
		cfg.RetryPolicy = *s.Config.RetryPolicy
	}
	if s.Config.SkipOnConditionFailure != nil {
		cfg.SkipOnConditionFailure = *s.Config.SkipOnConditionFailure
	}
	cfg.AggregatePartialResults = s.Config.AggregatePartialResults

	def := &Definition{Name: s.Name, Version: s.Version, Config: cfg}
	for _, st := range s.Steps {
		cond, err := st.Condition.Build()
		if err != nil {
			return nil, &InvalidWorkflowError{Workflow: s.Name, Reason: fmt.Sprintf("step %s condition: %v", st.ID, err)}
		}
		def.Steps = append(def.Steps, Step{
			ID:           st.ID,
			RuleName:     st.RuleName,
			InputMapping: st.InputMapping,
			Dependencies: st.Dependencies,
			Optional:     st.Optional,
			Condition:    cond,
		})
	}

	if _, err := NewPlan(def); err != nil {
		return nil, err
	}
	return def, nil
}

// SpecOf converts a Definition back into its serialized form
func SpecOf(def *Definition, aggregate string) Spec {
	timeout := def.Config.TimeoutMs
	retry := def.Config.RetryPolicy
	skip := def.Config.SkipOnConditionFailure
	s := Spec{
		Name:      def.Name,
		Version:   def.Version,
		Aggregate: aggregate,
		Config: ConfigSpec{
			ExecutionMode:           string(def.Config.ExecutionMode),
			TimeoutMs:               &timeout,
			RetryPolicy:             &retry,
			SkipOnConditionFailure:  &skip,
			AggregatePartialResults: def.Config.AggregatePartialResults,
		},
	}
	for _, st := range def.Steps {
		s.Steps = append(s.Steps, StepSpec{
			ID:           st.ID,
			RuleName:     st.RuleName,
			InputMapping: st.InputMapping,
			Dependencies: st.Dependencies,
			Optional:     st.Optional,
			Condition:    ConditionSpecOf(st.Condition),
		})
	}
	return s
}

// specFile is the top-level shape of a workflows file
type specFile struct {
	Workflows []Spec `yaml:"workflows"`
}

// DecodeSpecs reads a YAML (or JSON) document of the form
// {workflows: [...]}. Unknown fields are rejected.
func DecodeSpecs(r io.Reader) ([]Spec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f specFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode workflows: %w", err)
	}
	return f.Workflows, nil
}
