package tools

import (
	"fmt"
	"sort"

	"github.com/liamcoop/leadscore/rules"
)

// Banking products. DefaultProductPriority is the tie-break order.
const (
	ProductPayrollWPS      = "payroll_wps"
	ProductBusinessAccount = "business_current_account"
	ProductCashManagement  = "cash_management"
	ProductCorporateCard   = "corporate_credit_card"
	ProductTradeFinance    = "trade_finance"
)

// DefaultProductPriority breaks ties between equally scored products
var DefaultProductPriority = []string{
	ProductPayrollWPS,
	ProductBusinessAccount,
	ProductCashManagement,
	ProductCorporateCard,
	ProductTradeFinance,
}

// BankingProductConfig tunes match_banking_products
type BankingProductConfig struct {
	Version  string             `yaml:"version"`
	Weights  map[string]float64 `yaml:"weights"`
	Priority []string           `yaml:"priority"`
}

// DefaultBankingProductConfig weights: company size 30, industry 30,
// growth signal 25, relationship fit 15
func DefaultBankingProductConfig() BankingProductConfig {
	return BankingProductConfig{
		Version: "1.0.0",
		Weights: map[string]float64{
			"company_size":     30,
			"industry":         30,
			"growth_signal":    25,
			"relationship_fit": 15,
		},
		Priority: append([]string(nil), DefaultProductPriority...),
	}
}

// ProductScore is one product's accumulated affinity
type ProductScore struct {
	Product string  `json:"product"`
	Score   float64 `json:"score"`
}

var industryAffinity = map[string]map[string]float64{
	"trading":            {ProductTradeFinance: 30},
	"logistics":          {ProductTradeFinance: 30},
	"manufacturing":      {ProductTradeFinance: 30},
	"wholesale":          {ProductTradeFinance: 30},
	"technology":         {ProductCorporateCard: 20, ProductPayrollWPS: 10},
	"financial services": {ProductCashManagement: 30},
	"finance":            {ProductCashManagement: 30},
	"real estate":        {ProductBusinessAccount: 20, ProductCashManagement: 10},
	"construction":       {ProductBusinessAccount: 20, ProductCashManagement: 10},
	"hospitality":        {ProductBusinessAccount: 20, ProductCorporateCard: 10},
	"retail":             {ProductBusinessAccount: 20, ProductCorporateCard: 10},
	"healthcare":         {ProductPayrollWPS: 20, ProductCashManagement: 10},
}

var signalAffinity = map[string]map[string]float64{
	"hiring":     {ProductPayrollWPS: 25},
	"expansion":  {ProductBusinessAccount: 15, ProductCashManagement: 10},
	"new office": {ProductBusinessAccount: 15, ProductCashManagement: 10},
	"funding":    {ProductCashManagement: 25},
}

// BankingProduct picks the best-matching banking product for a company
type BankingProduct struct {
	cfg BankingProductConfig
}

// NewBankingProduct builds the rule from cfg
func NewBankingProduct(cfg BankingProductConfig) *BankingProduct {
	if len(cfg.Priority) == 0 {
		cfg.Priority = append([]string(nil), DefaultProductPriority...)
	}
	return &BankingProduct{cfg: cfg}
}

func (b *BankingProduct) Name() string             { return BankingProductRule }
func (b *BankingProduct) Version() string          { return b.cfg.Version }
func (b *BankingProduct) RequiredFields() []string { return []string{"industry"} }

// Evaluate tallies per-product affinity from each sub-check and picks the
// highest; ties go to the earlier product in the configured priority order.
// Confidence is the share of high-signal checks (size, industry, growth) that fired.
func (b *BankingProduct) Evaluate(in rules.Input) (*rules.Decision, error) {
	tally := make(map[string]float64, len(b.cfg.Priority))
	for _, p := range b.cfg.Priority {
		tally[p] = 0
	}
	add := func(scores map[string]float64) {
		for p, v := range scores {
			if _, known := tally[p]; known {
				tally[p] += v
			}
		}
	}

	var card rules.Scorecard

	sizeCheck := rules.Check{Name: "company_size", Label: "Company size", Weight: b.cfg.Weights["company_size"], HighSignal: true}
	size, hasSize := in.Number("employee_count")
	if !hasSize {
		size, hasSize = in.Number("uae_employees")
	}
	switch {
	case !hasSize || size <= 0:
		card.Add(sizeCheck, 0, "Company size unknown")
	case size >= 50:
		add(map[string]float64{ProductPayrollWPS: 30, ProductCashManagement: 10})
		card.Add(sizeCheck, 1, fmt.Sprintf("%.0f employees: payroll (WPS) volume", size))
	case size >= 10:
		add(map[string]float64{ProductPayrollWPS: 15, ProductBusinessAccount: 25})
		card.Add(sizeCheck, 1, fmt.Sprintf("%.0f employees: operating account with payroll", size))
	default:
		add(map[string]float64{ProductBusinessAccount: 30, ProductCorporateCard: 10})
		card.Add(sizeCheck, 1, fmt.Sprintf("%.0f employees: core business banking", size))
	}

	industryCheck := rules.Check{Name: "industry", Label: "Industry fit", Weight: b.cfg.Weights["industry"], HighSignal: true}
	industry, _ := in.String("industry")
	if affinity, known := industryAffinity[normalize(industry)]; known {
		add(affinity)
		card.Add(industryCheck, 1, fmt.Sprintf("%s industry has a known product profile", industry))
	} else {
		add(map[string]float64{ProductBusinessAccount: 15})
		card.Add(industryCheck, 0.5, fmt.Sprintf("%s industry: generic business banking profile", industry))
	}

	growthCheck := rules.Check{Name: "growth_signal", Label: "Growth signal", Weight: b.cfg.Weights["growth_signal"], HighSignal: true}
	signalType, _ := in.String("signal_type")
	if affinity, known := signalAffinity[normalize(signalType)]; known {
		add(affinity)
		card.Add(growthCheck, 1, fmt.Sprintf("%s signal shifts product need", signalType))
	} else {
		card.Add(growthCheck, 0, "No growth signal to act on")
	}

	relCheck := rules.Check{Name: "relationship_fit", Label: "Relationship fit", Weight: b.cfg.Weights["relationship_fit"]}
	quality, hasQuality := in.Number("company_quality_score")
	switch {
	case hasQuality && quality >= 80:
		add(map[string]float64{ProductCashManagement: 10, ProductCorporateCard: 5})
		card.Add(relCheck, 1, fmt.Sprintf("Company quality %.0f supports premium products", quality))
	case hasQuality && quality >= 60:
		add(map[string]float64{ProductCorporateCard: 5})
		card.Add(relCheck, 0.5, fmt.Sprintf("Company quality %.0f", quality))
	case hasQuality:
		card.Add(relCheck, 0, fmt.Sprintf("Company quality %.0f too low for premium products", quality))
	default:
		card.Add(relCheck, 0, "No company quality score supplied")
	}

	ranked := rankProducts(tally, b.cfg.Priority)
	best := ranked[0]
	return &rules.Decision{
		Score:      rules.Score(rules.Round2(rules.Clamp(best.Score, 0, 100))),
		Category:   best.Product,
		Confidence: rules.Round2(card.HighSignalRatio()),
		Reasoning:  card.Reasoning(),
		Factors:    card.Factors(),
		Metadata: map[string]any{
			"rankedProducts": ranked,
			"fitScore":       rules.Round2(card.Total(0, 100)),
		},
	}, nil
}

// rankProducts orders products by score, then by declared priority
func rankProducts(tally map[string]float64, priority []string) []ProductScore {
	rank := make(map[string]int, len(priority))
	for i, p := range priority {
		rank[p] = i
	}
	out := make([]ProductScore, 0, len(tally))
	for p, s := range tally {
		out = append(out, ProductScore{Product: p, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return rank[out[i].Product] < rank[out[j].Product]
	})
	return out
}
