package model

import "time"

// Tier is the coarse risk bucket derived from the score plus override rules.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Rank orders tiers; higher is riskier.
func (t Tier) Rank() int {
	switch t {
	case TierLow:
		return 1
	case TierMedium:
		return 2
	case TierHigh:
		return 3
	default:
		return 0
	}
}

// FactorKind distinguishes the sources of score contributions.
type FactorKind string

const (
	FactorIssue      FactorKind = "issue"
	FactorComparison FactorKind = "comparison"
	FactorBlend      FactorKind = "blend"
	FactorOverride   FactorKind = "override"
)

// Factor is one contribution to the final score. The factors list must add up:
// an assessment is reproducible from its factors alone.
type Factor struct {
	Kind   FactorKind `json:"kind"`
	Key    string     `json:"key"`
	Points float64    `json:"points"`
	Detail string     `json:"detail,omitempty"`
}

// AISignal is the optional probabilistic input. Rationale is passed through
// for audit only and never consumed numerically.
type AISignal struct {
	Available bool    `json:"available"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

// RiskAssessment is the scored, explainable output for one submission version.
// Append-only: re-scoring creates a new assessment with a bumped Version.
type RiskAssessment struct {
	ID           string             `json:"id"`
	SubmissionID string             `json:"submission_id"`
	Version      int                `json:"version"`
	Score        float64            `json:"score"`
	RuleScore    float64            `json:"rule_score"`
	Tier         Tier               `json:"tier"`
	Overridden   bool               `json:"overridden"`
	Factors      []Factor           `json:"factors"`
	Issues       []Issue            `json:"issues"`
	Comparisons  []ComparisonResult `json:"comparisons"`
	AISignal     AISignal           `json:"ai_signal"`
	ComputedAt   time.Time          `json:"computed_at"`
}

// HasIssueAtLeast reports whether any issue is at least the given severity.
func (a *RiskAssessment) HasIssueAtLeast(sev Severity) bool {
	for _, is := range a.Issues {
		if is.Severity.AtLeast(sev) {
			return true
		}
	}
	return false
}

// HasIdentityMismatch reports whether an identity-number field mismatched.
func (a *RiskAssessment) HasIdentityMismatch() bool {
	for _, c := range a.Comparisons {
		if c.IdentityNumber && c.Verdict == VerdictMismatch {
			return true
		}
	}
	return false
}
