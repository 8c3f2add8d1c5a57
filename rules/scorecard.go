package rules

import "math"

// Check declares one weighted sub-check of a rule
type Check struct {
	Name       string
	Label      string
	Weight     float64
	HighSignal bool
}

// Scorecard accumulates weighted sub-check results. Every check added
// contributes exactly one reasoning line, whether or not it fired.
type Scorecard struct {
	factors   []Factor
	reasoning []string
}

// Add records a check earning fraction (clamped to [0,1]) of its weight
func (s *Scorecard) Add(check Check, fraction float64, reason string) float64 {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	points := check.Weight * fraction
	s.factors = append(s.factors, Factor{
		Name:       check.Name,
		Label:      check.Label,
		Weight:     check.Weight,
		Points:     points,
		Fired:      points > 0,
		HighSignal: check.HighSignal,
	})
	s.reasoning = append(s.reasoning, reason)
	return points
}

// Total sums contributions clamped to [min, max]
func (s *Scorecard) Total(min, max float64) float64 {
	var sum float64
	for _, f := range s.factors {
		sum += f.Points
	}
	return Clamp(sum, min, max)
}

// HighSignalRatio is the fraction of high-signal checks that fired
func (s *Scorecard) HighSignalRatio() float64 {
	var total, fired int
	for _, f := range s.factors {
		if !f.HighSignal {
			continue
		}
		total++
		if f.Fired {
			fired++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(fired) / float64(total)
}

// Factors returns the recorded factors in check order
func (s *Scorecard) Factors() []Factor {
	return append([]Factor(nil), s.factors...)
}

// Reasoning returns one line per check in check order
func (s *Scorecard) Reasoning() []string {
	return append([]string(nil), s.reasoning...)
}

// Clamp bounds v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
