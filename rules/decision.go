package rules

// Input is the structured record a rule evaluates
type Input map[string]any

// Factor records how one weighted sub-check contributed to a Decision
type Factor struct {
	Name       string  `json:"name"`
	Label      string  `json:"label"`
	Weight     float64 `json:"weight"`
	Points     float64 `json:"points"`
	Fired      bool    `json:"fired"`
	HighSignal bool    `json:"highSignal,omitempty"`
}

// Decision is the output of a rule evaluation.
// Score, Tier and Category are the rule-specific primary outputs; a rule sets
// whichever of them it produces.
type Decision struct {
	Score      *float64       `json:"score,omitempty"`
	Tier       string         `json:"tier,omitempty"`
	Category   string         `json:"category,omitempty"`
	Confidence float64        `json:"confidence"`
	Reasoning  []string       `json:"reasoning"`
	Factors    []Factor       `json:"factors,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Score returns a pointer to v for Decision.Score
func Score(v float64) *float64 {
	return &v
}

// Field returns a named field of the decision for path lookups.
// Supported names: score, tier, category, confidence, reasoning, metadata,
// and any bare metadata key.
func (d *Decision) Field(name string) (any, bool) {
	if d == nil {
		return nil, false
	}
	switch name {
	case "score":
		if d.Score == nil {
			return nil, false
		}
		return *d.Score, true
	case "tier":
		return d.Tier, d.Tier != ""
	case "category":
		return d.Category, d.Category != ""
	case "confidence":
		return d.Confidence, true
	case "reasoning":
		return d.Reasoning, len(d.Reasoning) > 0
	case "metadata":
		return d.Metadata, d.Metadata != nil
	}
	if d.Metadata == nil {
		return nil, false
	}
	v, ok := d.Metadata[name]
	return v, ok
}

// clone returns a copy whose Metadata map can be written without touching d
func (d *Decision) clone() *Decision {
	c := *d
	if d.Score != nil {
		c.Score = Score(*d.Score)
	}
	c.Reasoning = append([]string(nil), d.Reasoning...)
	c.Factors = append([]Factor(nil), d.Factors...)
	c.Metadata = make(map[string]any, len(d.Metadata)+3)
	for k, v := range d.Metadata {
		c.Metadata[k] = v
	}
	return &c
}
