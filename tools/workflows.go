package tools

import (
	"fmt"

	"github.com/liamcoop/leadscore/rules"
	"github.com/liamcoop/leadscore/workflow"
)

const (
	// ConditionalLeadScoring is the built-in lead qualification workflow
	ConditionalLeadScoring = "conditional_lead_scoring"

	// LeadSummaryFold is the catalog name of LeadSummary
	LeadSummaryFold = "lead_summary"

	// QualifiedScore is the company quality score a lead needs before any
	// contact-level work is done
	QualifiedScore = 70
)

// Step ids of the conditional_lead_scoring workflow
const (
	StepCompanyQuality = "company_quality"
	StepContactTier    = "contact_tier"
	StepTimingScore    = "timing_score"
	StepBankingProduct = "banking_product"
)

// ConditionalLeadScoringWorkflow scores the company first and only spends
// contact, timing and product evaluation on qualified companies. Contact
// tier and timing run side by side; product matching needs both.
func ConditionalLeadScoringWorkflow() *workflow.Definition {
	qualityScore := "$.results." + StepCompanyQuality + ".score"
	qualified := workflow.Threshold{Path: qualityScore, Operator: workflow.OpGreaterOrEqual, Value: QualifiedScore}

	return &workflow.Definition{
		Name:    ConditionalLeadScoring,
		Version: "1.0.0",
		Config: workflow.Config{
			ExecutionMode: workflow.ParallelWherePossible,
			TimeoutMs:     5000,
			RetryPolicy: workflow.RetryPolicy{
				MaxRetries: 2,
				BackoffMs:  100,
				Strategy:   workflow.BackoffExponential,
			},
			SkipOnConditionFailure: true,
		},
		Steps: []workflow.Step{
			{
				ID:       StepCompanyQuality,
				RuleName: CompanyQualityRule,
			},
			{
				ID:           StepContactTier,
				RuleName:     ContactTierRule,
				Dependencies: []string{StepCompanyQuality},
				Optional:     true,
				Condition: workflow.And{Checks: []workflow.Condition{
					qualified,
					workflow.Exists{Path: "$.input.contact_title", Want: true},
				}},
				InputMapping: map[string]string{
					"contact_title":    "$.input.contact_title",
					"contact_function": "$.input.contact_function",
					"employee_count":   "$.input.uae_employees",
				},
			},
			{
				ID:           StepTimingScore,
				RuleName:     TimingScoreRule,
				Dependencies: []string{StepCompanyQuality},
				Optional:     true,
				Condition:    qualified,
			},
			{
				ID:           StepBankingProduct,
				RuleName:     BankingProductRule,
				Dependencies: []string{StepContactTier, StepTimingScore},
				Optional:     true,
				Condition: workflow.AllDependenciesExecuted{
					RequiredDependencies: []string{StepContactTier, StepTimingScore},
				},
				InputMapping: map[string]string{
					"industry":              "$.input.industry",
					"uae_employees":         "$.input.uae_employees",
					"employee_count":        "$.input.employee_count",
					"signal_type":           "$.input.signal_type",
					"company_quality_score": qualityScore,
				},
			},
		},
	}
}

// LeadSummary is the aggregate of a conditional_lead_scoring run
type LeadSummary struct {
	Qualified          bool     `json:"qualified"`
	CompanyScore       *float64 `json:"companyScore,omitempty"`
	CompanyTier        string   `json:"companyTier,omitempty"`
	ContactTier        string   `json:"contactTier,omitempty"`
	TimingCategory     string   `json:"timingCategory,omitempty"`
	SendDay            string   `json:"sendDay,omitempty"`
	SendHour           int      `json:"sendHour,omitempty"`
	RecommendedProduct string   `json:"recommendedProduct,omitempty"`
	Confidence         float64  `json:"confidence"`
	Explanation        string   `json:"explanation"`
	Reasoning          []string `json:"reasoning"`
}

// SummarizeLead folds the steps of a conditional_lead_scoring run.
// Confidence is the mean over the steps that produced a decision.
func SummarizeLead(steps []*workflow.StepResult) (any, error) {
	byStep := make(map[string]*rules.Decision, len(steps))
	var confidence float64
	var reasoning []string
	for _, s := range steps {
		if s.Status != workflow.StatusSucceeded || s.Decision == nil {
			continue
		}
		byStep[s.StepID] = s.Decision
		confidence += s.Decision.Confidence
		for _, line := range s.Decision.Reasoning {
			reasoning = append(reasoning, s.StepID+": "+line)
		}
	}

	company, ok := byStep[StepCompanyQuality]
	if !ok {
		return nil, fmt.Errorf("step %s produced no decision", StepCompanyQuality)
	}

	out := &LeadSummary{
		CompanyScore: company.Score,
		CompanyTier:  company.Tier,
		Confidence:   rules.Round2(confidence / float64(len(byStep))),
		Explanation:  rules.Summarize(company),
		Reasoning:    reasoning,
	}
	out.Qualified = company.Score != nil && *company.Score >= QualifiedScore

	if d, ok := byStep[StepContactTier]; ok {
		out.ContactTier = d.Tier
	}
	if d, ok := byStep[StepTimingScore]; ok {
		out.TimingCategory = d.Category
		out.SendDay, _ = d.Metadata["recommendedSendDay"].(string)
		out.SendHour, _ = d.Metadata["recommendedSendHour"].(int)
	}
	if d, ok := byStep[StepBankingProduct]; ok {
		out.RecommendedProduct = d.Category
	}
	return out, nil
}

// RegisterWorkflows adds the lead_summary fold and the built-in workflows to catalog
func RegisterWorkflows(catalog *workflow.Catalog) error {
	if err := catalog.RegisterFold(LeadSummaryFold, SummarizeLead); err != nil {
		return err
	}
	return catalog.Add(ConditionalLeadScoringWorkflow(), LeadSummaryFold)
}
