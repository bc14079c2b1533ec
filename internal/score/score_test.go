package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/kyc-engine/internal/config"
	"github.com/veridoc/kyc-engine/internal/model"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		LowWeight: 4, MediumWeight: 10, HighWeight: 25, CriticalWeight: 45,
		LowCap: 10, MediumCap: 25, HighCap: 45, CriticalCap: 70,
		MismatchPenalty: 30,
		RuleBlendWeight: 0.6,
		MediumThreshold: 30,
		HighThreshold:   70,
	}
}

func issue(t model.IssueType, sev model.Severity, weight float64) model.Issue {
	return model.Issue{Type: t, Severity: sev, Weight: weight}
}

func TestScoreCleanSubmissionIsZeroLow(t *testing.T) {
	s := New(testScoringConfig())
	a := s.Score(nil, []model.ComparisonResult{
		{FieldName: "full_name", Verdict: model.VerdictMatch, Importance: 2.0},
	}, model.AISignal{})

	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, model.TierLow, a.Tier)
	assert.False(t, a.Overridden)
	assert.Empty(t, a.Factors)
}

func TestScoreSeverityCaps(t *testing.T) {
	s := New(testScoringConfig())
	a := s.Score([]model.Issue{
		issue(model.IssueRotated, model.SeverityLow, 50), // capped to 10
	}, nil, model.AISignal{})

	require.Len(t, a.Factors, 1)
	assert.Equal(t, 10.0, a.Factors[0].Points)
	assert.Equal(t, 10.0, a.Score)
}

func TestScoreMismatchPenaltyScalesWithImportance(t *testing.T) {
	s := New(testScoringConfig())
	a := s.Score(nil, []model.ComparisonResult{
		{FieldName: "cnic", Verdict: model.VerdictMismatch, Importance: 2.5},
		{FieldName: "address", Verdict: model.VerdictMismatch, Importance: 1.0},
		{FieldName: "full_name", Verdict: model.VerdictMatch, Importance: 2.0},
	}, model.AISignal{})

	// 30*2.5 + 30*1.0 = 105, clamped to 100.
	assert.Equal(t, 100.0, a.Score)
	assert.Equal(t, model.TierHigh, a.Tier)
	assert.Len(t, a.Factors, 2, "matches contribute no factor")
}

func TestScorePartialMatchIsHalfPenalty(t *testing.T) {
	s := New(testScoringConfig())
	a := s.Score(nil, []model.ComparisonResult{
		{FieldName: "full_name", Verdict: model.VerdictPartialMatch, Importance: 2.0},
	}, model.AISignal{})

	// 30 * 2.0 / 2 = 30: lands exactly on the medium boundary.
	assert.Equal(t, 30.0, a.Score)
	assert.Equal(t, model.TierMedium, a.Tier)
}

func TestScoreBlendsSignal(t *testing.T) {
	s := New(testScoringConfig())
	issues := []model.Issue{issue(model.IssueGlare, model.SeverityMedium, 10)}

	a := s.Score(issues, nil, model.AISignal{Available: true, Score: 80})
	// 10*0.6 + 80*0.4 = 38.
	assert.InDelta(t, 38.0, a.Score, 1e-9)
	assert.Equal(t, 10.0, a.RuleScore)
	assert.Equal(t, model.TierMedium, a.Tier)

	var kinds []model.FactorKind
	for _, f := range a.Factors {
		kinds = append(kinds, f.Kind)
	}
	assert.Contains(t, kinds, model.FactorBlend)
}

func TestScoreUnavailableSignalIsRuleOnly(t *testing.T) {
	s := New(testScoringConfig())
	issues := []model.Issue{issue(model.IssueGlare, model.SeverityMedium, 10)}

	a := s.Score(issues, nil, model.AISignal{Available: false, Score: 95})
	assert.Equal(t, 10.0, a.Score)
	assert.Equal(t, a.RuleScore, a.Score)
	for _, f := range a.Factors {
		assert.NotEqual(t, model.FactorBlend, f.Kind)
	}
}

func TestScoreOverrideOnCriticalIssue(t *testing.T) {
	s := New(testScoringConfig())
	a := s.Score([]model.Issue{
		issue(model.IssueExpiredDocument, model.SeverityCritical, 45),
	}, nil, model.AISignal{})

	// 45 points alone is medium, but a critical issue floors the tier at high.
	assert.Equal(t, 45.0, a.Score)
	assert.Equal(t, model.TierHigh, a.Tier)
	assert.True(t, a.Overridden)

	last := a.Factors[len(a.Factors)-1]
	assert.Equal(t, model.FactorOverride, last.Kind)
}

func TestScoreOverrideOnIdentityMismatch(t *testing.T) {
	s := New(testScoringConfig())
	a := s.Score(nil, []model.ComparisonResult{
		{FieldName: "cnic", Verdict: model.VerdictMismatch, Importance: 1.0, IdentityNumber: true},
	}, model.AISignal{})

	assert.Equal(t, 30.0, a.Score)
	assert.Equal(t, model.TierHigh, a.Tier, "identity mismatch floors the tier at high")
	assert.True(t, a.Overridden)
}

func TestScoreNoOverrideWhenAlreadyHigh(t *testing.T) {
	s := New(testScoringConfig())
	a := s.Score([]model.Issue{
		issue(model.IssueExpiredDocument, model.SeverityCritical, 45),
		issue(model.IssueBlurry, model.SeverityHigh, 25),
		issue(model.IssueMissingSide, model.SeverityHigh, 25),
	}, nil, model.AISignal{})

	assert.Equal(t, model.TierHigh, a.Tier)
	assert.False(t, a.Overridden, "no override factor when the score is already high")
}

func TestScoreTierThresholds(t *testing.T) {
	s := New(testScoringConfig())
	tests := []struct {
		score float64
		want  model.Tier
	}{
		{0, model.TierLow},
		{29.9, model.TierLow},
		{30, model.TierMedium},
		{69.9, model.TierMedium},
		{70, model.TierHigh},
		{100, model.TierHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.tierFor(tt.score), "score %.1f", tt.score)
	}
}

func TestScoreFactorsAddUpToRuleScore(t *testing.T) {
	s := New(testScoringConfig())
	a := s.Score([]model.Issue{
		issue(model.IssueGlare, model.SeverityMedium, 10),
		issue(model.IssueRotated, model.SeverityLow, 4),
	}, []model.ComparisonResult{
		{FieldName: "full_name", Verdict: model.VerdictPartialMatch, Importance: 2.0},
	}, model.AISignal{})

	var sum float64
	for _, f := range a.Factors {
		sum += f.Points
	}
	assert.InDelta(t, a.RuleScore, sum, 1e-9)
}
