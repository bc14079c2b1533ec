// Package score combines detected issues, cross-field verdicts, and the
// optional probabilistic signal into a single explainable 0-100 risk score.
//
// The score is deterministic and fully reproducible from its factors list:
// every point contribution is enumerated, including the blend components and
// any hard override.
package score

import (
	"fmt"
	"strings"
	"time"

	"github.com/veridoc/kyc-engine/internal/config"
	"github.com/veridoc/kyc-engine/internal/model"
)

// Scorer computes risk assessments from rule outputs.
type Scorer struct {
	cfg config.ScoringConfig

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Scorer with the given weights.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg, nowFunc: time.Now}
}

// Score produces a RiskAssessment from the join of the issue detector and the
// cross-field validator, blending in the AI signal when available. The caller
// assigns identity fields (ID, SubmissionID, Version).
func (s *Scorer) Score(issues []model.Issue, comparisons []model.ComparisonResult, sig model.AISignal) *model.RiskAssessment {
	var factors []model.Factor
	var subtotal float64

	for _, is := range issues {
		points := is.Weight
		if cap := s.capFor(is.Severity); points > cap {
			points = cap
		}
		subtotal += points
		factors = append(factors, model.Factor{
			Kind:   model.FactorIssue,
			Key:    issueKey(is),
			Points: points,
			Detail: is.Evidence,
		})
	}

	for _, c := range comparisons {
		var points float64
		switch c.Verdict {
		case model.VerdictMismatch:
			points = s.cfg.MismatchPenalty * c.Importance
		case model.VerdictPartialMatch:
			points = s.cfg.MismatchPenalty * c.Importance / 2
		default:
			continue
		}
		subtotal += points
		factors = append(factors, model.Factor{
			Kind:   model.FactorComparison,
			Key:    c.FieldName,
			Points: points,
			Detail: fmt.Sprintf("%s: form %q vs document %q", c.Verdict, c.FormValue, c.DocumentValue),
		})
	}

	ruleScore := clamp(subtotal)

	final := ruleScore
	if sig.Available {
		w := s.cfg.RuleBlendWeight
		rulePart := ruleScore * w
		aiPart := clamp(sig.Score) * (1 - w)
		final = clamp(rulePart + aiPart)
		factors = append(factors,
			model.Factor{Kind: model.FactorBlend, Key: "rule_based", Points: rulePart,
				Detail: fmt.Sprintf("rule subtotal %.1f at weight %.2f", ruleScore, w)},
			model.Factor{Kind: model.FactorBlend, Key: "ai_signal", Points: aiPart,
				Detail: fmt.Sprintf("signal %.1f at weight %.2f", clamp(sig.Score), 1-w)},
		)
	}

	tier := s.tierFor(final)

	assessment := &model.RiskAssessment{
		Score:       final,
		RuleScore:   ruleScore,
		Tier:        tier,
		Factors:     factors,
		Issues:      issues,
		Comparisons: comparisons,
		AISignal:    sig,
		ComputedAt:  s.nowFunc().UTC(),
	}

	// Hard override: a single disqualifying problem must never be masked by
	// a low aggregate score.
	if reason := overrideReason(assessment); reason != "" && tier.Rank() < model.TierHigh.Rank() {
		assessment.Tier = model.TierHigh
		assessment.Overridden = true
		assessment.Factors = append(assessment.Factors, model.Factor{
			Kind:   model.FactorOverride,
			Key:    "tier_floor_high",
			Detail: reason,
		})
	}

	return assessment
}

// tierFor maps a score to its tier; a pure function of the thresholds.
func (s *Scorer) tierFor(score float64) model.Tier {
	switch {
	case score < s.cfg.MediumThreshold:
		return model.TierLow
	case score < s.cfg.HighThreshold:
		return model.TierMedium
	default:
		return model.TierHigh
	}
}

func (s *Scorer) capFor(sev model.Severity) float64 {
	switch sev {
	case model.SeverityLow:
		return s.cfg.LowCap
	case model.SeverityMedium:
		return s.cfg.MediumCap
	case model.SeverityHigh:
		return s.cfg.HighCap
	case model.SeverityCritical:
		return s.cfg.CriticalCap
	default:
		return 0
	}
}

func overrideReason(a *model.RiskAssessment) string {
	if a.HasIssueAtLeast(model.SeverityCritical) {
		return "critical issue present"
	}
	if a.HasIdentityMismatch() {
		return "identity number mismatch"
	}
	return ""
}

func issueKey(is model.Issue) string {
	if len(is.Fields) == 0 {
		return string(is.Type)
	}
	return string(is.Type) + ":" + strings.Join(is.Fields, ",")
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
