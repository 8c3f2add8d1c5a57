package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Explain renders a decision's primary output and reasoning as a single line
func Explain(d *Decision) string {
	if d == nil {
		return "no decision"
	}

	var parts []string
	if d.Score != nil {
		parts = append(parts, "score="+strconv.FormatFloat(*d.Score, 'f', 1, 64))
	}
	if d.Tier != "" {
		parts = append(parts, "tier="+d.Tier)
	}
	if d.Category != "" {
		parts = append(parts, "category="+d.Category)
	}
	parts = append(parts, "confidence="+strconv.FormatFloat(d.Confidence, 'f', 2, 64))

	line := strings.Join(parts, " ")
	if name, ok := d.Metadata["ruleName"].(string); ok {
		line = name + ": " + line
	}
	if len(d.Reasoning) > 0 {
		line += " | " + strings.Join(d.Reasoning, "; ")
	}
	return line
}

// Summarize explains a decision in terms of its strongest positive factors
// and its most significant missing high-signal factor
func Summarize(d *Decision) string {
	if d == nil || len(d.Factors) == 0 {
		return "Insufficient data for detailed explanation."
	}

	var positive, negative []Factor
	for _, f := range d.Factors {
		switch {
		case f.Fired:
			positive = append(positive, f)
		case f.HighSignal:
			negative = append(negative, f)
		}
	}
	sort.SliceStable(positive, func(i, j int) bool { return positive[i].Points > positive[j].Points })
	sort.SliceStable(negative, func(i, j int) bool { return negative[i].Weight > negative[j].Weight })

	if len(positive) == 0 && len(negative) == 0 {
		return "Insufficient data for detailed explanation."
	}

	var b strings.Builder
	if len(positive) > 0 {
		fmt.Fprintf(&b, "This lead scores high because %s is strong", readable(positive[0]))
		if len(positive) > 1 {
			fmt.Fprintf(&b, ", plus %d other positive signals", len(positive)-1)
		}
	}
	if len(negative) > 0 {
		if b.Len() > 0 {
			fmt.Fprintf(&b, ". However, %s is a concern", readable(negative[0]))
		} else {
			fmt.Fprintf(&b, "Low score mainly due to %s", readable(negative[0]))
		}
	}
	b.WriteString(".")
	return b.String()
}

func readable(f Factor) string {
	if f.Label != "" {
		return f.Label
	}
	words := strings.Fields(strings.ReplaceAll(f.Name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
