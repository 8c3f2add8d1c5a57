package tools

import (
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/leadscore/rules"
)

// Timing categories, highest first
const (
	TimingHot  = "HOT"
	TimingWarm = "WARM"
	TimingCool = "COOL"
	TimingCold = "COLD"
)

// TimingConfig tunes calculate_timing_score
type TimingConfig struct {
	Version string             `yaml:"version"`
	Weights map[string]float64 `yaml:"weights"`
	Bands   []rules.Band       `yaml:"bands"`
}

// DefaultTimingConfig weights: signal recency 35, signal type 25,
// calendar window 20, contact cadence 20
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		Version: "1.0.0",
		Weights: map[string]float64{
			"signal_recency":  35,
			"signal_type":     25,
			"calendar_window": 20,
			"contact_cadence": 20,
		},
		Bands: []rules.Band{
			{Min: 70, Label: TimingHot},
			{Min: 45, Label: TimingWarm},
			{Min: 25, Label: TimingCool},
			{Min: 0, Label: TimingCold},
		},
	}
}

var signalTypeFractions = map[string]float64{
	"expansion":  1.0,
	"new office": 1.0,
	"hiring":     0.8,
	"funding":    0.6,
	"award":      0.3,
	"news":       0.2,
}

// calendarFractions by month: budget planning in Q1 and after the summer
// scores highest, July/August lowest
var calendarFractions = map[int]float64{
	1: 1, 2: 1, 3: 1,
	4: 0.6, 5: 0.6, 6: 0.6,
	7: 0.25, 8: 0.25,
	9: 1, 10: 1,
	11: 0.6,
	12: 0.4,
}

// sendWindow is a recommended outreach slot
type sendWindow struct {
	day  time.Weekday
	hour int
}

// default slot is Tuesday 10:00; finance teams read mail early midweek,
// executives before their day fills up
var sendWindows = map[string]sendWindow{
	"finance":   {time.Wednesday, 9},
	"executive": {time.Thursday, 8},
	"admin":     {time.Monday, 11},
}

// TimingScore scores how good the moment is to reach out
type TimingScore struct {
	cfg TimingConfig
}

// NewTimingScore builds the rule from cfg
func NewTimingScore(cfg TimingConfig) *TimingScore {
	return &TimingScore{cfg: cfg}
}

func (t *TimingScore) Name() string             { return TimingScoreRule }
func (t *TimingScore) Version() string          { return t.cfg.Version }
func (t *TimingScore) RequiredFields() []string { return []string{"signal_type", "signal_age_days"} }

// Validate rejects a signal age that is not a non-negative number
func (t *TimingScore) Validate(in rules.Input) []string {
	if age, ok := in.Number("signal_age_days"); !ok || age < 0 {
		return []string{fmt.Sprintf("signal_age_days must be a non-negative number, got %v", in["signal_age_days"])}
	}
	return nil
}

// Evaluate reads the calendar month from current_month or reference_date
// (YYYY-MM-DD) in the input; it never consults the wall clock.
// Confidence is the share of high-signal checks (recency, type) that fired.
func (t *TimingScore) Evaluate(in rules.Input) (*rules.Decision, error) {
	var card rules.Scorecard

	recency := rules.Check{Name: "signal_recency", Label: "Signal recency", Weight: t.cfg.Weights["signal_recency"], HighSignal: true}
	if invalid := t.Validate(in); len(invalid) > 0 {
		return nil, errors.New(invalid[0])
	}
	age, _ := in.Number("signal_age_days")
	switch {
	case age <= 7:
		card.Add(recency, 1, fmt.Sprintf("Signal is %.0f days old, act now (+%.0f)", age, recency.Weight))
	case age <= 30:
		card.Add(recency, 25.0/35.0, fmt.Sprintf("Signal is %.0f days old, still fresh", age))
	case age <= 90:
		card.Add(recency, 10.0/35.0, fmt.Sprintf("Signal is %.0f days old, cooling", age))
	default:
		card.Add(recency, 0, fmt.Sprintf("Signal is %.0f days old, expired", age))
	}

	typeCheck := rules.Check{Name: "signal_type", Label: "Signal type", Weight: t.cfg.Weights["signal_type"], HighSignal: true}
	signalType, _ := in.String("signal_type")
	if fraction, known := signalTypeFractions[normalize(signalType)]; known {
		card.Add(typeCheck, fraction, fmt.Sprintf("%s signal (+%.0f)", signalType, typeCheck.Weight*fraction))
	} else {
		card.Add(typeCheck, 0.2, fmt.Sprintf("Unrecognised signal type %q", signalType))
	}

	calendar := rules.Check{Name: "calendar_window", Label: "Calendar window", Weight: t.cfg.Weights["calendar_window"]}
	if month, ok := monthOf(in); ok {
		fraction := calendarFractions[month]
		card.Add(calendar, fraction, fmt.Sprintf("%s budget window scores %.0f%%", time.Month(month), fraction*100))
	} else {
		card.Add(calendar, 0, "Calendar context not supplied")
	}

	cadence := rules.Check{Name: "contact_cadence", Label: "Contact cadence", Weight: t.cfg.Weights["contact_cadence"]}
	since, contacted := in.Number("days_since_last_contact")
	switch {
	case !contacted:
		card.Add(cadence, 1, "No prior outreach on record")
	case since > 90:
		card.Add(cadence, 0.75, fmt.Sprintf("Last contact %.0f days ago", since))
	case since >= 30:
		card.Add(cadence, 0.4, fmt.Sprintf("Last contact %.0f days ago, allow more time", since))
	default:
		card.Add(cadence, 0, fmt.Sprintf("Contacted %.0f days ago, too soon", since))
	}

	function, _ := in.String("contact_function")
	window, ok := sendWindows[normalize(function)]
	if !ok {
		window = sendWindow{time.Tuesday, 10}
	}

	score := rules.Round2(card.Total(0, 100))
	return &rules.Decision{
		Score:      rules.Score(score),
		Category:   band(score, t.cfg.Bands),
		Confidence: rules.Round2(card.HighSignalRatio()),
		Reasoning:  card.Reasoning(),
		Factors:    card.Factors(),
		Metadata: map[string]any{
			"recommendedSendDay":  window.day.String(),
			"recommendedSendHour": window.hour,
		},
	}, nil
}

func monthOf(in rules.Input) (int, bool) {
	if m, ok := in.Number("current_month"); ok && m >= 1 && m <= 12 {
		return int(m), true
	}
	if s, ok := in.String("reference_date"); ok {
		if d, err := time.Parse("2006-01-02", s); err == nil {
			return int(d.Month()), true
		}
	}
	return 0, false
}
