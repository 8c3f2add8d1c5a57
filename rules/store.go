package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// SpecStore persists expression rule specs
type SpecStore interface {
	// Add a new spec; (name, version) must be unique
	Add(spec *ExpressionSpec) error

	// Get a spec by name and version
	Get(name, version string) (*ExpressionSpec, error)

	// List all active specs, oldest first
	ListActive() ([]*ExpressionSpec, error)

	// Update an existing spec
	Update(spec *ExpressionSpec) error

	// Delete a spec
	Delete(name, version string) error
}

// InMemorySpecStore implements SpecStore using an in-memory map
type InMemorySpecStore struct {
	specs map[string]*ExpressionSpec
	mu    sync.RWMutex
}

// NewInMemorySpecStore creates a new in-memory spec store
func NewInMemorySpecStore() *InMemorySpecStore {
	return &InMemorySpecStore{
		specs: make(map[string]*ExpressionSpec),
	}
}

func specKey(name, version string) string {
	return name + "@" + canonicalVersion(version)
}

// Add adds a new spec and stamps its timestamps
func (s *InMemorySpecStore) Add(spec *ExpressionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := specKey(spec.Name, spec.Version)
	if _, exists := s.specs[key]; exists {
		return &DuplicateRuleError{Name: spec.Name, Version: spec.Version}
	}

	now := time.Now()
	spec.CreatedAt = now
	spec.UpdatedAt = now
	s.specs[key] = spec
	return nil
}

// Get retrieves a spec by name and version
func (s *InMemorySpecStore) Get(name, version string) (*ExpressionSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, exists := s.specs[specKey(name, version)]
	if !exists {
		return nil, &RuleNotFoundError{Name: name, Version: version}
	}
	return spec, nil
}

// ListActive returns all active specs ordered by creation time
func (s *InMemorySpecStore) ListActive() ([]*ExpressionSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*ExpressionSpec
	for _, spec := range s.specs {
		if spec.Active {
			active = append(active, spec)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return specKey(active[i].Name, active[i].Version) < specKey(active[j].Name, active[j].Version)
	})
	return active, nil
}

// Update replaces an existing spec, preserving CreatedAt
func (s *InMemorySpecStore) Update(spec *ExpressionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := specKey(spec.Name, spec.Version)
	existing, exists := s.specs[key]
	if !exists {
		return &RuleNotFoundError{Name: spec.Name, Version: spec.Version}
	}

	spec.CreatedAt = existing.CreatedAt
	spec.UpdatedAt = time.Now()
	s.specs[key] = spec
	return nil
}

// Delete removes a spec from the store
func (s *InMemorySpecStore) Delete(name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := specKey(name, version)
	if _, exists := s.specs[key]; !exists {
		return &RuleNotFoundError{Name: name, Version: version}
	}

	delete(s.specs, key)
	return nil
}

// LoadActiveSpecs compiles every active spec in store and registers it.
// A spec that fails to compile aborts the load.
func LoadActiveSpecs(env *cel.Env, store SpecStore, registry *Registry) (int, error) {
	specs, err := store.ListActive()
	if err != nil {
		return 0, err
	}

	for _, spec := range specs {
		rule, err := CompileExpressionRule(env, *spec)
		if err != nil {
			return 0, fmt.Errorf("failed to compile rule %s@%s: %w", spec.Name, spec.Version, err)
		}
		if err := registry.Register(rule); err != nil {
			return 0, fmt.Errorf("failed to register rule %s@%s: %w", spec.Name, spec.Version, err)
		}
	}
	return len(specs), nil
}
