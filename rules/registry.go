package rules

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/mod/semver"
)

// Registry maps rule names to versioned definitions and executes them.
// Rules are registered during startup; Execute is safe for concurrent use.
type Registry struct {
	rules  map[string][]Definition // name -> versions in registration order
	active map[string]string       // name -> explicitly activated version
	mu     sync.RWMutex
}

// RuleInfo describes the active version of a registered rule
type RuleInfo struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Versions       []string `json:"versions"`
	RequiredFields []string `json:"requiredFields"`
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		rules:  make(map[string][]Definition),
		active: make(map[string]string),
	}
}

// Register adds a rule definition. The newest registration of a name becomes
// active unless a version was pinned with SetActive.
func (r *Registry) Register(def Definition) error {
	if err := checkDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := def.Name()
	for _, existing := range r.rules[name] {
		if sameVersion(existing.Version(), def.Version()) {
			return &DuplicateRuleError{Name: name, Version: def.Version()}
		}
	}
	r.rules[name] = append(r.rules[name], def)
	return nil
}

// MustRegister registers def and panics on error
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Unregister removes one version of a rule
func (r *Registry) Unregister(name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.rules[name]
	for i, def := range versions {
		if sameVersion(def.Version(), version) {
			r.rules[name] = append(versions[:i:i], versions[i+1:]...)
			if len(r.rules[name]) == 0 {
				delete(r.rules, name)
			}
			if sameVersion(r.active[name], version) {
				delete(r.active, name)
			}
			return nil
		}
	}
	return &RuleNotFoundError{Name: name, Version: version}
}

// SetActive pins the version served by Execute for name
func (r *Registry) SetActive(name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range r.rules[name] {
		if sameVersion(def.Version(), version) {
			r.active[name] = def.Version()
			return nil
		}
	}
	return &RuleNotFoundError{Name: name, Version: version}
}

// Has reports whether name@version is registered
func (r *Registry) Has(name, version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.rules[name] {
		if sameVersion(def.Version(), version) {
			return true
		}
	}
	return false
}

// Lookup returns the active definition for name
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(name, "")
}

func (r *Registry) lookup(name, version string) (Definition, error) {
	versions := r.rules[name]
	if len(versions) == 0 {
		return nil, &RuleNotFoundError{Name: name, Version: version}
	}
	if version == "" {
		version = r.active[name]
	}
	if version == "" {
		return versions[len(versions)-1], nil
	}
	for _, def := range versions {
		if sameVersion(def.Version(), version) {
			return def, nil
		}
	}
	return nil, &RuleNotFoundError{Name: name, Version: version}
}

// List returns the active rules sorted by name
func (r *Registry) List() []RuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RuleInfo, 0, len(r.rules))
	for name, versions := range r.rules {
		def, err := r.lookup(name, "")
		if err != nil {
			continue
		}
		all := make([]string, 0, len(versions))
		for _, v := range versions {
			all = append(all, v.Version())
		}
		sort.Slice(all, func(i, j int) bool {
			return semver.Compare(canonicalVersion(all[i]), canonicalVersion(all[j])) < 0
		})
		infos = append(infos, RuleInfo{
			Name:           name,
			Version:        def.Version(),
			Versions:       all,
			RequiredFields: append([]string(nil), def.RequiredFields()...),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Execute validates input against the active version of ruleName, evaluates
// it, and stamps ruleVersion and executionTimeMs into the decision metadata
func (r *Registry) Execute(ruleName string, input Input) (*Decision, error) {
	return r.ExecuteVersion(ruleName, "", input)
}

// ExecuteVersion is Execute against a specific registered version; an empty
// version means the active one. Used to shadow a candidate version next to
// the active one.
func (r *Registry) ExecuteVersion(ruleName, version string, input Input) (*Decision, error) {
	r.mu.RLock()
	def, err := r.lookup(ruleName, version)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if missing := missingFields(def.RequiredFields(), input); len(missing) > 0 {
		return nil, &ValidationError{Rule: ruleName, Errors: missing}
	}
	if v, ok := def.(Validator); ok {
		if invalid := v.Validate(input); len(invalid) > 0 {
			return nil, &ValidationError{Rule: ruleName, Invalid: invalid}
		}
	}

	start := time.Now()
	decision, err := safeEvaluate(def, input)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &RuleExecutionError{Rule: ruleName, Version: def.Version(), Cause: err}
	}
	if err := checkDecision(decision); err != nil {
		return nil, &RuleExecutionError{Rule: ruleName, Version: def.Version(), Cause: err}
	}

	out := decision.clone()
	out.Metadata["ruleName"] = ruleName
	out.Metadata["ruleVersion"] = def.Version()
	out.Metadata["executionTimeMs"] = float64(elapsed.Microseconds()) / 1000.0
	return out, nil
}

// missingFields returns every required field absent from input, in declaration order
func missingFields(required []string, input Input) []string {
	var missing []string
	for _, field := range required {
		if !input.Has(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

// safeEvaluate converts a panic inside rule logic into an error
func safeEvaluate(def Definition, input Input) (decision *Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			decision = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if input == nil {
		input = Input{}
	}
	return def.Evaluate(input)
}

func checkDecision(d *Decision) error {
	if d == nil {
		return errors.New("rule returned a nil decision")
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", d.Confidence)
	}
	if d.Confidence > 0 && len(d.Reasoning) == 0 {
		return errors.New("decision has confidence but no reasoning")
	}
	if d.Score != nil && math.IsNaN(*d.Score) {
		return errors.New("score is NaN")
	}
	return nil
}

func sameVersion(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	return semver.Compare(canonicalVersion(a), canonicalVersion(b)) == 0
}
