// Package audit records every decision a rule produced so it can be replayed
// and explained later.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/leadscore/rules"
)

// Record is one audited decision
type Record struct {
	ID          string          `json:"id"`
	RuleName    string          `json:"ruleName"`
	RuleVersion string          `json:"ruleVersion"`
	Workflow    string          `json:"workflow,omitempty"`
	RunID       string          `json:"runId,omitempty"`
	StepID      string          `json:"stepId,omitempty"`
	InputHash   string          `json:"inputHash"`
	Output      json.RawMessage `json:"output"`
	Confidence  float64         `json:"confidence"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Recorder persists decision records
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}

// NewRecord builds a record for a decision. The rule version is read from
// the decision metadata the registry stamps.
func NewRecord(ruleName string, input rules.Input, d *rules.Decision) (*Record, error) {
	hash, err := HashInput(input)
	if err != nil {
		return nil, err
	}
	output, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision: %w", err)
	}

	version, _ := d.Metadata["ruleVersion"].(string)
	return &Record{
		ID:          uuid.NewString(),
		RuleName:    ruleName,
		RuleVersion: version,
		InputHash:   hash,
		Output:      output,
		Confidence:  d.Confidence,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// HashInput is the hex sha256 of the input's JSON form. encoding/json sorts
// map keys, so equal inputs hash equally.
func HashInput(input rules.Input) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal input: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// MemoryRecorder keeps records in memory
type MemoryRecorder struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryRecorder creates an empty MemoryRecorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record stores a copy of rec
func (m *MemoryRecorder) Record(_ context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	c := *rec
	m.mu.Lock()
	m.records = append(m.records, &c)
	m.mu.Unlock()
	return nil
}

// Records returns all stored records, oldest first
func (m *MemoryRecorder) Records() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]*Record(nil), m.records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ForRun returns the records written by one workflow run
func (m *MemoryRecorder) ForRun(runID string) []*Record {
	var out []*Record
	for _, r := range m.Records() {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out
}
