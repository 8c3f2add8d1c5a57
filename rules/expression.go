package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
)

// ExpressionSpec is the stored form of a rule whose weighted checks are CEL
// boolean expressions over the variable `input`
type ExpressionSpec struct {
	Name           string            `json:"name" yaml:"name"`
	Version        string            `json:"version" yaml:"version"`
	Description    string            `json:"description,omitempty" yaml:"description,omitempty"`
	RequiredFields []string          `json:"requiredFields" yaml:"requiredFields"`
	Checks         []ExpressionCheck `json:"checks" yaml:"checks"`
	Bands          []Band            `json:"bands,omitempty" yaml:"bands,omitempty"`
	MaxScore       float64           `json:"maxScore,omitempty" yaml:"maxScore,omitempty"`
	Active         bool              `json:"active" yaml:"active"`
	CreatedAt      time.Time         `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt      time.Time         `json:"updatedAt,omitempty" yaml:"-"`
}

// ExpressionCheck is one weighted sub-check
type ExpressionCheck struct {
	Name       string  `json:"name" yaml:"name"`
	Label      string  `json:"label,omitempty" yaml:"label,omitempty"`
	Expression string  `json:"expression" yaml:"expression"`
	Weight     float64 `json:"weight" yaml:"weight"`
	HighSignal bool    `json:"highSignal,omitempty" yaml:"highSignal,omitempty"`
}

// Band maps a minimum score to a tier label
type Band struct {
	Min   float64 `json:"min" yaml:"min"`
	Label string  `json:"label" yaml:"label"`
}

// ExpressionRule is a compiled ExpressionSpec
type ExpressionRule struct {
	spec     ExpressionSpec
	programs []cel.Program
}

// NewExpressionEnv creates the CEL environment expression rules compile against
func NewExpressionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileExpressionRule compiles every check of spec; any compile error rejects the rule
func CompileExpressionRule(env *cel.Env, spec ExpressionSpec) (*ExpressionRule, error) {
	if len(spec.Checks) == 0 {
		return nil, &InvalidRuleError{Name: spec.Name, Reason: "expression rule needs at least one check"}
	}
	if spec.MaxScore <= 0 {
		spec.MaxScore = 100
	}

	programs := make([]cel.Program, 0, len(spec.Checks))
	for _, check := range spec.Checks {
		if check.Name == "" {
			return nil, &InvalidRuleError{Name: spec.Name, Reason: "check name cannot be empty"}
		}
		if check.Weight < 0 {
			return nil, &InvalidRuleError{Name: spec.Name, Reason: fmt.Sprintf("check %s has negative weight", check.Name)}
		}

		ast, issues := env.Compile(check.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile error in %s.%s: %w", spec.Name, check.Name, issues.Err())
		}

		// Cost limit keeps a stored expression from exhausting the evaluator
		prog, err := env.Program(ast,
			cel.EvalOptions(cel.OptTrackCost),
			cel.CostLimit(1000000),
		)
		if err != nil {
			return nil, fmt.Errorf("program creation error in %s.%s: %w", spec.Name, check.Name, err)
		}
		programs = append(programs, prog)
	}

	bands := append([]Band(nil), spec.Bands...)
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].Min > bands[j].Min })
	spec.Bands = bands

	rule := &ExpressionRule{spec: spec, programs: programs}
	if err := checkDefinition(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *ExpressionRule) Name() string             { return r.spec.Name }
func (r *ExpressionRule) Version() string          { return r.spec.Version }
func (r *ExpressionRule) RequiredFields() []string { return r.spec.RequiredFields }

// Spec returns the source spec of the rule
func (r *ExpressionRule) Spec() ExpressionSpec { return r.spec }

// Evaluate runs every check; a non-boolean result counts as not matched
func (r *ExpressionRule) Evaluate(input Input) (*Decision, error) {
	activation := map[string]any{"input": map[string]any(input)}

	var card Scorecard
	var cost uint64
	anyHighSignal := false
	for i, check := range r.spec.Checks {
		out, details, err := r.programs[i].Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", check.Name, err)
		}
		if details != nil && details.ActualCost() != nil {
			cost += *details.ActualCost()
		}
		matched, _ := out.Value().(bool)

		label := check.Label
		if label == "" {
			label = check.Name
		}
		c := Check{Name: check.Name, Label: label, Weight: check.Weight, HighSignal: check.HighSignal}
		anyHighSignal = anyHighSignal || check.HighSignal
		if matched {
			card.Add(c, 1, fmt.Sprintf("%s: matched (+%.0f)", label, check.Weight))
		} else {
			card.Add(c, 0, fmt.Sprintf("%s: not matched", label))
		}
	}

	score := Round2(card.Total(0, r.spec.MaxScore))
	decision := &Decision{
		Score:     Score(score),
		Reasoning: card.Reasoning(),
		Factors:   card.Factors(),
		Metadata:  map[string]any{"checks": len(r.spec.Checks), "evalCost": cost},
	}
	for _, band := range r.spec.Bands {
		if score >= band.Min {
			decision.Tier = band.Label
			break
		}
	}

	if anyHighSignal {
		decision.Confidence = Round2(card.HighSignalRatio())
	} else {
		fired := 0
		for _, f := range decision.Factors {
			if f.Fired {
				fired++
			}
		}
		decision.Confidence = Round2(float64(fired) / float64(len(decision.Factors)))
	}
	return decision, nil
}
