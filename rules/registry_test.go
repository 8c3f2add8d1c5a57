package rules

import (
	"errors"
	"sync"
	"testing"
)

func constantRule(name, version string, score float64, required ...string) *Func {
	return &Func{
		RuleName:    name,
		RuleVersion: version,
		Required:    required,
		Fn: func(input Input) (*Decision, error) {
			return &Decision{
				Score:      Score(score),
				Confidence: 0.5,
				Reasoning:  []string{"constant"},
				Metadata:   map[string]any{"source": "test"},
			}, nil
		},
	}
}

// TestRegisterAndExecute verifies a registered rule runs and gets its metadata stamped
func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(constantRule("company_fit", "1.0.0", 42, "industry")); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	d, err := r.Execute("company_fit", Input{"industry": "Technology"})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if d.Score == nil || *d.Score != 42 {
		t.Errorf("Score = %v, want 42", d.Score)
	}
	if d.Metadata["ruleName"] != "company_fit" {
		t.Errorf("ruleName = %v, want company_fit", d.Metadata["ruleName"])
	}
	if d.Metadata["ruleVersion"] != "1.0.0" {
		t.Errorf("ruleVersion = %v, want 1.0.0", d.Metadata["ruleVersion"])
	}
	if _, ok := d.Metadata["executionTimeMs"].(float64); !ok {
		t.Errorf("executionTimeMs missing or not float64: %v", d.Metadata["executionTimeMs"])
	}
	if d.Metadata["source"] != "test" {
		t.Errorf("rule metadata was dropped: %v", d.Metadata)
	}
}

// TestExecuteDoesNotMutateRuleDecision verifies stamping metadata works on a copy
func TestExecuteDoesNotMutateRuleDecision(t *testing.T) {
	shared := &Decision{Confidence: 0.2, Reasoning: []string{"shared"}, Metadata: map[string]any{}}
	r := NewRegistry()
	r.MustRegister(&Func{RuleName: "shared_rule", RuleVersion: "1.0.0", Fn: func(Input) (*Decision, error) {
		return shared, nil
	}})

	if _, err := r.Execute("shared_rule", Input{}); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(shared.Metadata) != 0 {
		t.Errorf("rule's own decision was mutated: %v", shared.Metadata)
	}
}

// TestExecuteUnknownRule verifies unknown names return RuleNotFoundError
func TestExecuteUnknownRule(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute("missing_rule", Input{})

	var notFound *RuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RuleNotFoundError, got %v", err)
	}
	if notFound.Name != "missing_rule" {
		t.Errorf("Name = %q, want missing_rule", notFound.Name)
	}
}

// TestExecuteReportsAllMissingFields verifies validation lists every missing field and skips evaluation
func TestExecuteReportsAllMissingFields(t *testing.T) {
	called := false
	r := NewRegistry()
	r.MustRegister(&Func{
		RuleName:    "needs_fields",
		RuleVersion: "1.0.0",
		Required:    []string{"industry", "uae_employees", "entity_type"},
		Fn: func(Input) (*Decision, error) {
			called = true
			return &Decision{}, nil
		},
	})

	_, err := r.Execute("needs_fields", Input{"uae_employees": 10, "entity_type": "  "})

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{"industry", "entity_type"}
	if len(validation.Errors) != len(want) {
		t.Fatalf("Errors = %v, want %v", validation.Errors, want)
	}
	for i := range want {
		if validation.Errors[i] != want[i] {
			t.Errorf("Errors[%d] = %q, want %q", i, validation.Errors[i], want[i])
		}
	}
	if called {
		t.Error("evaluate should not run when validation fails")
	}
}

// validatedRule rejects a non-positive headcount
type validatedRule struct {
	*Func
}

func (v validatedRule) Validate(input Input) []string {
	if n, ok := input.Number("headcount"); !ok || n <= 0 {
		return []string{"headcount must be a positive number"}
	}
	return nil
}

// TestExecuteRejectsMalformedFields verifies a Validator turns bad values into
// a ValidationError before the rule runs
func TestExecuteRejectsMalformedFields(t *testing.T) {
	called := false
	r := NewRegistry()
	r.MustRegister(validatedRule{&Func{
		RuleName:    "sized",
		RuleVersion: "1.0.0",
		Required:    []string{"headcount"},
		Fn: func(Input) (*Decision, error) {
			called = true
			return &Decision{}, nil
		},
	}})

	testCases := []struct {
		name        string
		input       Input
		wantMissing int
		wantInvalid int
	}{
		{"missing", Input{}, 1, 0},
		{"text", Input{"headcount": "lots"}, 0, 1},
		{"zero", Input{"headcount": 0}, 0, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Execute("sized", tc.input)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(validation.Errors) != tc.wantMissing || len(validation.Invalid) != tc.wantInvalid {
				t.Errorf("missing = %v, invalid = %v", validation.Errors, validation.Invalid)
			}
			if len(validation.Details()) != tc.wantMissing+tc.wantInvalid {
				t.Errorf("Details() = %v", validation.Details())
			}
		})
	}
	if called {
		t.Error("evaluate should not run when validation fails")
	}

	if _, err := r.Execute("sized", Input{"headcount": 12}); err != nil {
		t.Errorf("Execute() failed on a valid input: %v", err)
	}
	if !called {
		t.Error("a valid input should reach the rule")
	}
}

// TestExecuteWrapsRuleFailures verifies returned errors and panics become RuleExecutionError
func TestExecuteWrapsRuleFailures(t *testing.T) {
	boom := errors.New("boom")
	testCases := []struct {
		name string
		fn   func(Input) (*Decision, error)
	}{
		{"returned error", func(Input) (*Decision, error) { return nil, boom }},
		{"panic", func(Input) (*Decision, error) { panic("kaboom") }},
		{"nil decision", func(Input) (*Decision, error) { return nil, nil }},
		{"confidence out of range", func(Input) (*Decision, error) {
			return &Decision{Confidence: 1.5, Reasoning: []string{"x"}}, nil
		}},
		{"confidence without reasoning", func(Input) (*Decision, error) {
			return &Decision{Confidence: 0.5}, nil
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			r.MustRegister(&Func{RuleName: "failing_rule", RuleVersion: "2.0.0", Fn: tc.fn})

			_, err := r.Execute("failing_rule", Input{})
			var execErr *RuleExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("expected RuleExecutionError, got %v", err)
			}
			if execErr.Version != "2.0.0" {
				t.Errorf("Version = %q, want 2.0.0", execErr.Version)
			}
		})
	}
}

// TestExecuteUnwrapsCause verifies the rule's own error is reachable through errors.Is
func TestExecuteUnwrapsCause(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.MustRegister(&Func{RuleName: "failing_rule", RuleVersion: "1.0.0", Fn: func(Input) (*Decision, error) {
		return nil, boom
	}})

	_, err := r.Execute("failing_rule", Input{})
	if !errors.Is(err, boom) {
		t.Errorf("errors.Is(err, boom) = false for %v", err)
	}
}

// TestRegisterRejectsInvalidDefinitions verifies names, versions and functions are checked
func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	testCases := []struct {
		name string
		def  Definition
	}{
		{"nil definition", nil},
		{"uppercase name", constantRule("CompanyFit", "1.0.0", 1)},
		{"empty name", constantRule("", "1.0.0", 1)},
		{"bad version", constantRule("company_fit", "one", 1)},
		{"empty required field", constantRule("company_fit", "1.0.0", 1, " ")},
		{"nil function", &Func{RuleName: "company_fit", RuleVersion: "1.0.0"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewRegistry().Register(tc.def)
			var invalid *InvalidRuleError
			if !errors.As(err, &invalid) {
				t.Errorf("expected InvalidRuleError, got %v", err)
			}
		})
	}
}

// TestRegisterDuplicateVersion verifies (name, version) is unique, including v-prefixed forms
func TestRegisterDuplicateVersion(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(constantRule("company_fit", "1.0.0", 1))

	err := r.Register(constantRule("company_fit", "v1.0.0", 2))
	var dup *DuplicateRuleError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateRuleError, got %v", err)
	}
}

// TestActiveVersionSelection verifies the newest registration serves until a version is pinned
func TestActiveVersionSelection(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(constantRule("company_fit", "1.0.0", 10))
	r.MustRegister(constantRule("company_fit", "1.1.0", 20))

	d, err := r.Execute("company_fit", Input{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if *d.Score != 20 {
		t.Errorf("default active score = %v, want 20 (latest)", *d.Score)
	}

	if err := r.SetActive("company_fit", "1.0.0"); err != nil {
		t.Fatalf("SetActive() failed: %v", err)
	}
	d, _ = r.Execute("company_fit", Input{})
	if *d.Score != 10 {
		t.Errorf("pinned score = %v, want 10", *d.Score)
	}

	shadow, err := r.ExecuteVersion("company_fit", "1.1.0", Input{})
	if err != nil {
		t.Fatalf("ExecuteVersion() failed: %v", err)
	}
	if *shadow.Score != 20 {
		t.Errorf("shadow score = %v, want 20", *shadow.Score)
	}

	if err := r.SetActive("company_fit", "9.9.9"); err == nil {
		t.Error("SetActive() with unknown version should fail")
	}
}

// TestUnregister verifies removing the pinned version falls back to the latest
func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(constantRule("company_fit", "1.0.0", 10))
	r.MustRegister(constantRule("company_fit", "2.0.0", 20))
	_ = r.SetActive("company_fit", "2.0.0")

	if err := r.Unregister("company_fit", "2.0.0"); err != nil {
		t.Fatalf("Unregister() failed: %v", err)
	}
	d, err := r.Execute("company_fit", Input{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if *d.Score != 10 {
		t.Errorf("score = %v, want 10", *d.Score)
	}

	if err := r.Unregister("company_fit", "1.0.0"); err != nil {
		t.Fatalf("Unregister() failed: %v", err)
	}
	if _, err := r.Lookup("company_fit"); err == nil {
		t.Error("Lookup() should fail once every version is removed")
	}
}

// TestList verifies listing reports the active version and all versions in semver order
func TestList(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(constantRule("zeta_rule", "1.0.0", 1))
	r.MustRegister(constantRule("alpha_rule", "1.10.0", 1, "industry"))
	r.MustRegister(constantRule("alpha_rule", "1.2.0", 1))

	infos := r.List()
	if len(infos) != 2 {
		t.Fatalf("List() returned %d rules, want 2", len(infos))
	}
	if infos[0].Name != "alpha_rule" {
		t.Errorf("first rule = %s, want alpha_rule", infos[0].Name)
	}
	if infos[0].Version != "1.2.0" {
		t.Errorf("active version = %s, want 1.2.0 (registered last)", infos[0].Version)
	}
	if infos[0].Versions[0] != "1.2.0" || infos[0].Versions[1] != "1.10.0" {
		t.Errorf("Versions = %v, want semver order", infos[0].Versions)
	}
}

// TestExecuteIsDeterministic verifies identical inputs give identical decisions
func TestExecuteIsDeterministic(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Func{RuleName: "echo_rule", RuleVersion: "1.0.0", Fn: func(in Input) (*Decision, error) {
		n, _ := in.Number("value")
		return &Decision{Score: Score(n * 2), Confidence: 1, Reasoning: []string{"doubled"}}, nil
	}})

	first, _ := r.Execute("echo_rule", Input{"value": 21})
	for i := 0; i < 10; i++ {
		d, _ := r.Execute("echo_rule", Input{"value": 21})
		if *d.Score != *first.Score || d.Confidence != first.Confidence {
			t.Fatalf("run %d differs: %v vs %v", i, d, first)
		}
	}
}

// TestConcurrentExecute verifies the registry serves concurrent callers while rules are registered
func TestConcurrentExecute(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(constantRule("company_fit", "1.0.0", 1))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := r.Execute("company_fit", Input{}); err != nil {
				t.Errorf("Execute() failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			_ = r.List()
		}()
	}
	wg.Wait()
}

// TestInputAccessors verifies numeric and string coercion of inputs
func TestInputAccessors(t *testing.T) {
	in := Input{
		"count":  "120",
		"ratio":  0.5,
		"name":   "  Acme  ",
		"empty":  "",
		"tags":   []any{"a", 1, "b"},
		"nested": map[string]any{},
	}

	if n, ok := in.Number("count"); !ok || n != 120 {
		t.Errorf("Number(count) = %v, %v", n, ok)
	}
	if _, ok := in.Number("name"); ok {
		t.Error("Number(name) should not parse")
	}
	if s, ok := in.String("name"); !ok || s != "Acme" {
		t.Errorf("String(name) = %q, %v", s, ok)
	}
	if in.Has("empty") || in.Has("nested") || in.Has("absent") {
		t.Error("empty values should not count as present")
	}
	if tags := in.StringList("tags"); len(tags) != 2 {
		t.Errorf("StringList(tags) = %v", tags)
	}
}

// TestDecisionField verifies path lookups into decisions
func TestDecisionField(t *testing.T) {
	d := &Decision{Score: Score(85), Tier: "A", Confidence: 0.8, Metadata: map[string]any{"seniority": "senior"}}

	if v, ok := d.Field("score"); !ok || v != 85.0 {
		t.Errorf("Field(score) = %v, %v", v, ok)
	}
	if v, ok := d.Field("seniority"); !ok || v != "senior" {
		t.Errorf("Field(seniority) = %v, %v", v, ok)
	}
	if _, ok := d.Field("category"); ok {
		t.Error("Field(category) should be absent when empty")
	}
	if _, ok := (&Decision{}).Field("score"); ok {
		t.Error("Field(score) should be absent when nil")
	}
}
