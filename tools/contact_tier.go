package tools

import (
	"fmt"
	"strings"

	"github.com/liamcoop/leadscore/rules"
)

// Contact tiers, highest first. A score on a band boundary takes the higher tier.
const (
	TierStrategic = "STRATEGIC"
	TierPrimary   = "PRIMARY"
	TierSecondary = "SECONDARY"
	TierBackup    = "BACKUP"
)

// ContactTierConfig tunes select_contact_tier
type ContactTierConfig struct {
	Version string             `yaml:"version"`
	Weights map[string]float64 `yaml:"weights"`
	Bands   []rules.Band       `yaml:"bands"`
}

// DefaultContactTierConfig weights: seniority 40, function relevance 35,
// company size alignment 25
func DefaultContactTierConfig() ContactTierConfig {
	return ContactTierConfig{
		Version: "1.0.0",
		Weights: map[string]float64{
			"seniority":          40,
			"function_relevance": 35,
			"size_alignment":     25,
		},
		Bands: []rules.Band{
			{Min: 75, Label: TierStrategic},
			{Min: 55, Label: TierPrimary},
			{Min: 35, Label: TierSecondary},
			{Min: 0, Label: TierBackup},
		},
	}
}

type seniority struct {
	level    string
	fraction float64
	matched  bool
}

var seniorityLevels = []struct {
	level    string
	fraction float64
	phrases  []string
	words    []string
}{
	{"executive", 1.0,
		[]string{"managing director", "general manager", "co founder"},
		[]string{"chief", "ceo", "cfo", "coo", "cto", "chro", "cio", "founder", "owner", "president", "partner", "chairman"}},
	{"senior", 0.8,
		nil,
		[]string{"vp", "svp", "evp", "head", "director", "gm"}},
	{"mid", 0.5,
		nil,
		[]string{"manager", "lead", "senior", "supervisor", "principal"}},
}

// parseSeniority classifies a job title. Levels are tried highest first, so
// "general manager" is executive before "manager" can match.
func parseSeniority(title string) seniority {
	norm := normalize(title)
	words := strings.Fields(norm)
	if strings.Contains(norm, "vice president") {
		return seniority{level: "senior", fraction: 0.8, matched: true}
	}
	for _, lvl := range seniorityLevels {
		for _, p := range lvl.phrases {
			if strings.Contains(norm, p) {
				return seniority{level: lvl.level, fraction: lvl.fraction, matched: true}
			}
		}
		if containsWord(words, lvl.words...) {
			return seniority{level: lvl.level, fraction: lvl.fraction, matched: true}
		}
	}
	return seniority{level: "junior", fraction: 0.2}
}

var functionKeywords = []struct {
	function string
	fraction float64
	words    []string
}{
	{"hr", 1.0, []string{"hr", "chro", "human", "people", "talent", "payroll", "recruitment", "recruiting"}},
	{"finance", 1.0, []string{"finance", "financial", "cfo", "treasury", "treasurer", "accounts", "accounting", "controller"}},
	{"admin", 0.7, []string{"admin", "administration", "operations", "office", "coo"}},
	{"executive", 0.7, []string{"ceo", "founder", "owner", "president", "chairman", "managing"}},
	{"procurement", 0.5, []string{"procurement", "purchasing", "sourcing"}},
	{"other", 0.2, []string{"engineering", "sales", "marketing", "it", "technology", "product", "legal", "cto", "cio"}},
}

// parseFunction resolves the contact's business function from an explicit
// function field or, failing that, the title
func parseFunction(in rules.Input, title string) (string, float64, bool) {
	if fn, ok := in.String("contact_function"); ok {
		title = fn + " " + title
	}
	words := strings.Fields(normalize(title))
	for _, f := range functionKeywords {
		if containsWord(words, f.words...) {
			return f.function, f.fraction, true
		}
	}
	return "unknown", 0, false
}

// ContactTier picks how to prioritise a contact at a company
type ContactTier struct {
	cfg ContactTierConfig
}

// NewContactTier builds the rule from cfg
func NewContactTier(cfg ContactTierConfig) *ContactTier {
	return &ContactTier{cfg: cfg}
}

func (c *ContactTier) Name() string             { return ContactTierRule }
func (c *ContactTier) Version() string          { return c.cfg.Version }
func (c *ContactTier) RequiredFields() []string { return []string{"contact_title"} }

// Evaluate tiers the contact. Confidence is a weighted evidence sum:
// a recognised seniority keyword 0.4, a recognised function 0.4, known company size 0.2.
func (c *ContactTier) Evaluate(in rules.Input) (*rules.Decision, error) {
	title, _ := in.String("contact_title")
	var card rules.Scorecard

	sen := parseSeniority(title)
	senCheck := rules.Check{Name: "seniority", Label: "Contact seniority", Weight: c.cfg.Weights["seniority"], HighSignal: true}
	if sen.matched {
		card.Add(senCheck, sen.fraction, fmt.Sprintf("%s-level title %q (+%.0f)", sen.level, title, senCheck.Weight*sen.fraction))
	} else {
		card.Add(senCheck, sen.fraction, fmt.Sprintf("No seniority keyword in title %q, treated as junior", title))
	}

	function, fnFraction, fnKnown := parseFunction(in, title)
	fnCheck := rules.Check{Name: "function_relevance", Label: "Function relevance", Weight: c.cfg.Weights["function_relevance"], HighSignal: true}
	if fnKnown {
		card.Add(fnCheck, fnFraction, fmt.Sprintf("%s function relevance %.0f%%", function, fnFraction*100))
	} else {
		card.Add(fnCheck, 0, "Business function could not be determined")
	}

	sizeCheck := rules.Check{Name: "size_alignment", Label: "Company size alignment", Weight: c.cfg.Weights["size_alignment"]}
	size, hasSize := in.Number("employee_count")
	if !hasSize {
		size, hasSize = in.Number("company_size")
	}
	if hasSize && size > 0 {
		fraction, note := sizeAlignment(size, sen.level, function)
		card.Add(sizeCheck, fraction, note)
	} else {
		card.Add(sizeCheck, 0, "Company size unknown, no alignment bonus")
	}

	confidence := 0.0
	if sen.matched {
		confidence += 0.4
	}
	if fnKnown {
		confidence += 0.4
	}
	if hasSize && size > 0 {
		confidence += 0.2
	}

	score := rules.Round2(card.Total(0, 100))
	return &rules.Decision{
		Score:      rules.Score(score),
		Tier:       band(score, c.cfg.Bands),
		Category:   function,
		Confidence: rules.Round2(confidence),
		Reasoning:  card.Reasoning(),
		Factors:    card.Factors(),
		Metadata: map[string]any{
			"seniority": sen.level,
			"function":  function,
		},
	}, nil
}

// sizeAlignment rewards the decision makers who actually own banking
// relationships at each company size
func sizeAlignment(size float64, level, function string) (float64, string) {
	owner := function == "hr" || function == "finance"
	switch {
	case size < 50:
		if level == "executive" {
			return 1, fmt.Sprintf("Small company (%.0f): executives decide directly", size)
		}
		return 0.5, fmt.Sprintf("Small company (%.0f): non-executive contact", size)
	case size <= 500:
		if level == "executive" || level == "senior" {
			return 1, fmt.Sprintf("Mid-size company (%.0f): senior contact fits", size)
		}
		if level == "mid" {
			return 0.7, fmt.Sprintf("Mid-size company (%.0f): manager-level contact", size)
		}
		return 0.3, fmt.Sprintf("Mid-size company (%.0f): junior contact", size)
	case level == "senior":
		return 1, fmt.Sprintf("Large company (%.0f): director-level owner", size)
	case level == "mid" && owner:
		return 0.8, fmt.Sprintf("Large company (%.0f): functional manager owns the relationship", size)
	case level == "executive":
		return 0.6, fmt.Sprintf("Large company (%.0f): executive is hard to reach", size)
	default:
		return 0.3, fmt.Sprintf("Large company (%.0f): contact unlikely to own the decision", size)
	}
}
