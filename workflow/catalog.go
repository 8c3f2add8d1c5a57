package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// Entry is a registered workflow and the fold applied to its results
type Entry struct {
	Definition *Definition
	FoldName   string
	Fold       Fold
}

// WorkflowInfo summarizes a catalog entry for listings
type WorkflowInfo struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Aggregate string   `json:"aggregate,omitempty"`
	Steps     []string `json:"steps"`
	Mode      string   `json:"executionMode"`
}

// Catalog holds named workflows and folds for lookup by name
type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]*Entry
	folds     map[string]Fold
}

// NewCatalog creates a catalog with the built-in folds registered
func NewCatalog() *Catalog {
	c := &Catalog{
		workflows: make(map[string]*Entry),
		folds:     make(map[string]Fold),
	}
	c.folds[FoldHighestConfidence] = HighestConfidence
	c.folds[FoldMergeReasoning] = MergeReasoning
	c.folds[FoldDecisions] = Decisions
	return c
}

// RegisterFold makes a fold available to workflows by name
func (c *Catalog) RegisterFold(name string, fold Fold) error {
	if name == "" || fold == nil {
		return fmt.Errorf("fold name and function are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.folds[name]; exists {
		return fmt.Errorf("fold %s already registered", name)
	}
	c.folds[name] = fold
	return nil
}

// Add validates def and registers it under its name, replacing any previous
// version. foldName may be empty for workflows without an aggregate.
func (c *Catalog) Add(def *Definition, foldName string) error {
	if _, err := NewPlan(def); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var fold Fold
	if foldName != "" {
		var ok bool
		fold, ok = c.folds[foldName]
		if !ok {
			return &InvalidWorkflowError{Workflow: def.Name, Reason: fmt.Sprintf("unknown aggregate %q", foldName)}
		}
	}
	c.workflows[def.Name] = &Entry{Definition: def, FoldName: foldName, Fold: fold}
	return nil
}

// AddSpec builds and registers a serialized workflow
func (c *Catalog) AddSpec(s Spec) error {
	def, err := s.Build()
	if err != nil {
		return err
	}
	return c.Add(def, s.Aggregate)
}

// Get returns the entry registered under name
func (c *Catalog) Get(name string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.workflows[name]
	if !ok {
		return nil, &WorkflowNotFoundError{Name: name}
	}
	return e, nil
}

// List returns every workflow sorted by name
func (c *Catalog) List() []WorkflowInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]WorkflowInfo, 0, len(c.workflows))
	for _, e := range c.workflows {
		info := WorkflowInfo{
			Name:      e.Definition.Name,
			Version:   e.Definition.Version,
			Aggregate: e.FoldName,
			Mode:      string(e.Definition.Config.ExecutionMode),
		}
		for _, s := range e.Definition.Steps {
			info.Steps = append(info.Steps, s.ID)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
