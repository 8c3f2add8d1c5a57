// Package tools holds the built-in lead-scoring decision rules.
//
// Weights and thresholds are configuration data: every tool is built from a
// config struct whose defaults can be overridden from the rules file without
// touching the scoring logic.
package tools

import (
	"fmt"
	"strings"

	"github.com/liamcoop/leadscore/rules"
)

// Rule names served by this package
const (
	CompanyQualityRule = "evaluate_company_quality"
	ContactTierRule    = "select_contact_tier"
	TimingScoreRule    = "calculate_timing_score"
	BankingProductRule = "match_banking_products"
)

// Config groups the tunables of every built-in tool
type Config struct {
	CompanyQuality CompanyQualityConfig `yaml:"company_quality"`
	ContactTier    ContactTierConfig    `yaml:"contact_tier"`
	Timing         TimingConfig         `yaml:"timing"`
	BankingProduct BankingProductConfig `yaml:"banking_product"`
}

// DefaultConfig returns the calibrated defaults
func DefaultConfig() Config {
	return Config{
		CompanyQuality: DefaultCompanyQualityConfig(),
		ContactTier:    DefaultContactTierConfig(),
		Timing:         DefaultTimingConfig(),
		BankingProduct: DefaultBankingProductConfig(),
	}
}

// Merge overlays non-zero values of override onto c
func (c Config) Merge(override Config) Config {
	c.CompanyQuality.Version = pick(override.CompanyQuality.Version, c.CompanyQuality.Version)
	c.CompanyQuality.Weights = mergeWeights(c.CompanyQuality.Weights, override.CompanyQuality.Weights)
	if len(override.CompanyQuality.TargetIndustries) > 0 {
		c.CompanyQuality.TargetIndustries = override.CompanyQuality.TargetIndustries
	}
	if len(override.CompanyQuality.Bands) > 0 {
		c.CompanyQuality.Bands = override.CompanyQuality.Bands
	}

	c.ContactTier.Version = pick(override.ContactTier.Version, c.ContactTier.Version)
	c.ContactTier.Weights = mergeWeights(c.ContactTier.Weights, override.ContactTier.Weights)
	if len(override.ContactTier.Bands) > 0 {
		c.ContactTier.Bands = override.ContactTier.Bands
	}

	c.Timing.Version = pick(override.Timing.Version, c.Timing.Version)
	c.Timing.Weights = mergeWeights(c.Timing.Weights, override.Timing.Weights)
	if len(override.Timing.Bands) > 0 {
		c.Timing.Bands = override.Timing.Bands
	}

	c.BankingProduct.Version = pick(override.BankingProduct.Version, c.BankingProduct.Version)
	c.BankingProduct.Weights = mergeWeights(c.BankingProduct.Weights, override.BankingProduct.Weights)
	if len(override.BankingProduct.Priority) > 0 {
		c.BankingProduct.Priority = override.BankingProduct.Priority
	}
	return c
}

// RegisterDefaults registers all four tools built from cfg
func RegisterDefaults(registry *rules.Registry, cfg Config) error {
	defs := []rules.Definition{
		NewCompanyQuality(cfg.CompanyQuality),
		NewContactTier(cfg.ContactTier),
		NewTimingScore(cfg.Timing),
		NewBankingProduct(cfg.BankingProduct),
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name(), err)
		}
	}
	return nil
}

func pick(override, current string) string {
	if override != "" {
		return override
	}
	return current
}

func mergeWeights(base, override map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// band returns the label of the first band whose minimum score is met;
// bands are declared highest first
func band(score float64, bands []rules.Band) string {
	for _, b := range bands {
		if score >= b.Min {
			return b.Label
		}
	}
	if len(bands) > 0 {
		return bands[len(bands)-1].Label
	}
	return ""
}

// normalize lowercases and collapses separators so "Real-Estate" matches "real estate"
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", " ", "_", " ", "/", " ", "&", " and ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func containsWord(words []string, candidates ...string) bool {
	for _, w := range words {
		for _, c := range candidates {
			if w == c {
				return true
			}
		}
	}
	return false
}
