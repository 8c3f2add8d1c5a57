package tools

import (
	"fmt"

	"github.com/liamcoop/leadscore/rules"
)

// CompanyQualityConfig tunes evaluate_company_quality
type CompanyQualityConfig struct {
	Version          string             `yaml:"version"`
	Weights          map[string]float64 `yaml:"weights"`
	TargetIndustries []string           `yaml:"target_industries"`
	Bands            []rules.Band       `yaml:"bands"`
}

// DefaultCompanyQualityConfig weights: UAE presence 25, signal freshness 20,
// size fit 20, industry fit 15, entity type 10, hiring activity 10
func DefaultCompanyQualityConfig() CompanyQualityConfig {
	return CompanyQualityConfig{
		Version: "1.0.0",
		Weights: map[string]float64{
			"uae_presence":     25,
			"signal_freshness": 20,
			"size_fit":         20,
			"industry_fit":     15,
			"entity_type":      10,
			"hiring_activity":  10,
		},
		TargetIndustries: []string{
			"technology", "financial services", "healthcare", "real estate",
			"logistics", "manufacturing", "retail", "hospitality", "construction",
		},
		Bands: []rules.Band{
			{Min: 80, Label: "A"},
			{Min: 60, Label: "B"},
			{Min: 40, Label: "C"},
			{Min: 0, Label: "D"},
		},
	}
}

// CompanyQuality scores how attractive a company is as a lead
type CompanyQuality struct {
	cfg     CompanyQualityConfig
	targets map[string]bool
}

// NewCompanyQuality builds the rule from cfg
func NewCompanyQuality(cfg CompanyQualityConfig) *CompanyQuality {
	targets := make(map[string]bool, len(cfg.TargetIndustries))
	for _, ind := range cfg.TargetIndustries {
		targets[normalize(ind)] = true
	}
	return &CompanyQuality{cfg: cfg, targets: targets}
}

func (c *CompanyQuality) Name() string             { return CompanyQualityRule }
func (c *CompanyQuality) Version() string          { return c.cfg.Version }
func (c *CompanyQuality) RequiredFields() []string { return []string{"industry", "uae_employees"} }

func (c *CompanyQuality) check(name, label string, highSignal bool) rules.Check {
	return rules.Check{Name: name, Label: label, Weight: c.cfg.Weights[name], HighSignal: highSignal}
}

// Evaluate scores the company; confidence is the share of high-signal checks
// (UAE presence, signal freshness, size fit) that fired
func (c *CompanyQuality) Evaluate(in rules.Input) (*rules.Decision, error) {
	var card rules.Scorecard

	// UAE presence
	uaePresence := c.check("uae_presence", "UAE presence", true)
	uae, hasUAE := in.Number("uae_employees")
	office, _ := in["has_uae_office"].(bool)
	switch {
	case hasUAE && uae >= 50:
		card.Add(uaePresence, 1, fmt.Sprintf("Strong UAE presence: %.0f UAE employees (+%.0f)", uae, uaePresence.Weight))
	case hasUAE && uae > 0:
		card.Add(uaePresence, 0.6, fmt.Sprintf("Some UAE presence: %.0f UAE employees", uae))
	case office:
		card.Add(uaePresence, 0.4, "UAE office on record but no UAE headcount")
	default:
		card.Add(uaePresence, 0, "No UAE presence found")
	}

	// Signal freshness
	freshness := c.check("signal_freshness", "Recent business signal", true)
	age, hasAge := in.Number("signal_age_days")
	switch {
	case hasAge && age <= 30:
		card.Add(freshness, 1, fmt.Sprintf("Fresh signal: %.0f days old (+%.0f)", age, freshness.Weight))
	case hasAge && age <= 90:
		card.Add(freshness, 0.5, fmt.Sprintf("Signal aging: %.0f days old", age))
	case hasAge:
		card.Add(freshness, 0, fmt.Sprintf("Stale signal: %.0f days old", age))
	default:
		card.Add(freshness, 0, "No recent signal on record")
	}

	// Size fit
	sizeFit := c.check("size_fit", "Company size fit", true)
	size, hasSize := in.Number("employee_count")
	if !hasSize {
		size, hasSize = uae, hasUAE
	}
	switch {
	case !hasSize || size <= 0:
		card.Add(sizeFit, 0, "Company size unknown")
	case size >= 50 && size <= 500:
		card.Add(sizeFit, 1, fmt.Sprintf("Mid-market size (%.0f employees) is the best fit (+%.0f)", size, sizeFit.Weight))
	case size > 500 && size <= 5000:
		card.Add(sizeFit, 0.75, fmt.Sprintf("Large company (%.0f employees)", size))
	case size > 5000:
		card.Add(sizeFit, 0.5, fmt.Sprintf("Enterprise (%.0f employees), longer sales cycle", size))
	case size >= 10:
		card.Add(sizeFit, 0.5, fmt.Sprintf("Small company (%.0f employees)", size))
	default:
		card.Add(sizeFit, 0.25, fmt.Sprintf("Micro company (%.0f employees)", size))
	}

	// Industry fit
	industryFit := c.check("industry_fit", "Industry fit", false)
	industry, _ := in.String("industry")
	if c.targets[normalize(industry)] {
		card.Add(industryFit, 1, fmt.Sprintf("Target industry: %s (+%.0f)", industry, industryFit.Weight))
	} else {
		card.Add(industryFit, 1.0/3.0, fmt.Sprintf("Non-target industry: %s", industry))
	}

	// Entity type
	entity := c.check("entity_type", "Entity type", false)
	entityType, _ := in.String("entity_type")
	switch normalize(entityType) {
	case "private", "llc", "private limited":
		card.Add(entity, 1, fmt.Sprintf("Private entity (+%.0f)", entity.Weight))
	case "free zone", "freezone", "fze", "fzco":
		card.Add(entity, 0.8, "Free zone entity")
	case "public", "listed":
		card.Add(entity, 0.7, "Public entity")
	case "government", "semi government", "semi-government":
		card.Add(entity, 0, "Government entity, outside target segment")
	case "":
		card.Add(entity, 0, "Entity type unknown")
	default:
		card.Add(entity, 0.3, fmt.Sprintf("Entity type %s", entityType))
	}

	// Hiring activity
	hiring := c.check("hiring_activity", "Recent hiring activity", false)
	hires, _ := in.Number("hiring_signals_90d")
	switch {
	case hires >= 3:
		card.Add(hiring, 1, fmt.Sprintf("Active hiring: %.0f signals in 90 days (+%.0f)", hires, hiring.Weight))
	case hires >= 1:
		card.Add(hiring, 0.5, fmt.Sprintf("Some hiring: %.0f signals in 90 days", hires))
	default:
		card.Add(hiring, 0, "No hiring signals in 90 days")
	}

	score := rules.Round2(card.Total(0, 100))
	return &rules.Decision{
		Score:      rules.Score(score),
		Tier:       band(score, c.cfg.Bands),
		Confidence: rules.Round2(card.HighSignalRatio()),
		Reasoning:  card.Reasoning(),
		Factors:    card.Factors(),
		Metadata: map[string]any{
			"checks": len(card.Factors()),
		},
	}, nil
}
