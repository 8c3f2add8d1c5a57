package workflow

import (
	"fmt"
	"sort"
)

// Plan is a validated execution order for a Definition
type Plan struct {
	// Order is a topological order; ties keep declaration order
	Order []Step
	// Levels groups steps by dependency depth for parallel scheduling
	Levels [][]Step
	// Depth is the longest dependency chain leading to each step
	Depth map[string]int
}

// NewPlan validates def and computes its execution order. It never runs a
// rule, so cycles and bad references are reported before anything executes.
func NewPlan(def *Definition) (*Plan, error) {
	if def == nil {
		return nil, &InvalidWorkflowError{Reason: "definition is nil"}
	}
	invalid := func(format string, args ...any) error {
		return &InvalidWorkflowError{Workflow: def.Name, Reason: fmt.Sprintf(format, args...)}
	}

	if err := validateIdentifier(def.Name); err != nil {
		return nil, invalid("name %q: %v", def.Name, err)
	}
	if len(def.Steps) == 0 {
		return nil, invalid("workflow must contain at least one step")
	}
	if err := checkConfig(def.Config); err != nil {
		return nil, invalid("%v", err)
	}

	index := make(map[string]int, len(def.Steps))
	for i, s := range def.Steps {
		if err := validateIdentifier(s.ID); err != nil {
			return nil, invalid("step id %q: %v", s.ID, err)
		}
		if _, dup := index[s.ID]; dup {
			return nil, invalid("duplicate step id %q", s.ID)
		}
		if s.RuleName == "" {
			return nil, invalid("step %s has no rule name", s.ID)
		}
		index[s.ID] = i
	}

	for _, s := range def.Steps {
		for _, dep := range s.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, invalid("step %s depends on unknown step %q", s.ID, dep)
			}
		}
		if err := checkCondition(s.Condition); err != nil {
			return nil, invalid("step %s condition: %v", s.ID, err)
		}
		for _, ref := range stepRefs(s) {
			if _, ok := index[ref]; !ok {
				return nil, invalid("step %s references unknown step %q", s.ID, ref)
			}
		}
		for target, source := range s.InputMapping {
			if target == "" {
				return nil, invalid("%v", &MappingError{StepID: s.ID, Reason: "empty field name"})
			}
			if isPath(source) {
				if _, err := parsePath(source); err != nil {
					return nil, invalid("%v", &MappingError{StepID: s.ID, Field: target, Reason: err.Error()})
				}
			}
		}
	}

	order, err := topoSort(def, index)
	if err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, s := range order {
		d := 0
		for _, dep := range s.Dependencies {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[s.ID] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]Step, maxDepth+1)
	for _, s := range order {
		levels[depth[s.ID]] = append(levels[depth[s.ID]], s)
	}

	// Concurrent steps can only read results settled at a shallower depth
	if def.Config.ExecutionMode == ParallelWherePossible {
		for _, s := range order {
			for _, ref := range stepRefs(s) {
				if depth[ref] >= depth[s.ID] {
					return nil, invalid("step %s reads results of %s, which is not scheduled before it; add it as a dependency", s.ID, ref)
				}
			}
		}
	}

	return &Plan{Order: order, Levels: levels, Depth: depth}, nil
}

// topoSort is Kahn's algorithm with a declaration-order ready queue
func topoSort(def *Definition, index map[string]int) ([]Step, error) {
	indegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string, len(def.Steps))
	for _, s := range def.Steps {
		seen := make(map[string]bool, len(s.Dependencies))
		for _, dep := range s.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []int
	for i, s := range def.Steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]Step, 0, len(def.Steps))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		s := def.Steps[i]
		order = append(order, s)
		for _, next := range dependents[s.ID] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, index[next])
			}
		}
	}

	if len(order) != len(def.Steps) {
		var cyclic []string
		for _, s := range def.Steps {
			if indegree[s.ID] > 0 {
				cyclic = append(cyclic, s.ID)
			}
		}
		return nil, &CyclicDependencyError{Workflow: def.Name, Steps: cyclic}
	}
	return order, nil
}

// stepRefs lists the steps whose results a step reads through its condition
// or input mapping
func stepRefs(s Step) []string {
	refs := references(s.Condition)
	for _, source := range s.InputMapping {
		if !isPath(source) {
			continue
		}
		if p, err := parsePath(source); err == nil && p.root == rootResults {
			refs = append(refs, p.step)
		}
	}
	return refs
}

func checkConfig(c Config) error {
	switch c.ExecutionMode {
	case "", Sequential, ParallelWherePossible:
	default:
		return fmt.Errorf("unknown execution mode %q", c.ExecutionMode)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must not be negative")
	}
	if c.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("retryPolicy.maxRetries must not be negative")
	}
	if c.RetryPolicy.BackoffMs < 0 {
		return fmt.Errorf("retryPolicy.backoffMs must not be negative")
	}
	switch c.RetryPolicy.Strategy {
	case "", BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff strategy %q", c.RetryPolicy.Strategy)
	}
	return nil
}
