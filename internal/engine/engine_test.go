package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/kyc-engine/internal/config"
	"github.com/veridoc/kyc-engine/internal/model"
	"github.com/veridoc/kyc-engine/internal/rules"
	"github.com/veridoc/kyc-engine/internal/store"
	"github.com/veridoc/kyc-engine/pkg/signal"
)

func testConfig() *config.Config {
	return &config.Config{
		Scoring: config.ScoringConfig{
			LowWeight: 4, MediumWeight: 10, HighWeight: 25, CriticalWeight: 45,
			LowCap: 10, MediumCap: 25, HighCap: 45, CriticalCap: 70,
			MismatchPenalty: 30,
			RuleBlendWeight: 0.6,
			MediumThreshold: 30,
			HighThreshold:   70,
		},
		Engine: config.EngineConfig{
			QualityAnomalyThreshold: 98,
			LowQualityThreshold:     30,
			MaxConcurrent:           4,
		},
		Signal: config.SignalConfig{Enabled: false},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, sig signal.Client) (*Engine, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "kyc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	catalog, err := rules.Load()
	require.NoError(t, err)

	return New(cfg, catalog, st, sig), st
}

func cleanSubmission(id string) *model.Submission {
	return &model.Submission{
		ID:          id,
		CountryCode: "PK",
		FormFields: map[string]string{
			"full_name":     "Ahmed Khan",
			"cnic":          "12345-1234567-1",
			"date_of_birth": "1990-01-15",
			"address":       "12 Main Street Lahore",
		},
		Documents: []model.Document{
			{
				Type: "national_id_card",
				Side: model.SideFront,
				ExtractedFields: map[string]model.ExtractedField{
					"name":          {Value: "Ahmed Khan", Confidence: 0.95},
					"cnic_number":   {Value: "12345-1234567-1", Confidence: 0.97},
					"date_of_birth": {Value: "15/01/1990", Confidence: 0.9},
					"expiry_date":   {Value: "2030-05-01", Confidence: 0.92},
				},
				QualityScore: 85,
			},
			{
				Type:         "national_id_card",
				Side:         model.SideBack,
				QualityScore: 82,
				ExtractedFields: map[string]model.ExtractedField{
					"address": {Value: "12 Main St Lahore", Confidence: 0.88},
				},
			},
		},
	}
}

// stubSignal returns a fixed score or error without any network.
type stubSignal struct {
	score float64
	err   error
}

func (s *stubSignal) Assess(ctx context.Context, req signal.Request) (*signal.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &signal.Response{Score: s.score, Rationale: "stub"}, nil
}

func TestAssessCleanSubmissionAutoApproves(t *testing.T) {
	e, st := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	res, err := e.Assess(ctx, cleanSubmission("sub-clean"))
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Assessment.Score)
	assert.Equal(t, model.TierLow, res.Assessment.Tier)
	assert.Empty(t, res.Assessment.Issues)
	assert.Equal(t, model.OutcomeAutoApproved, res.Disposition.Outcome)
	assert.True(t, res.Disposition.Terminal)

	// The trail runs received -> assessed -> auto_approved -> closed.
	entries, err := st.ListAudit(ctx, "sub-clean")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.StateAssessed, entries[0].To)
	assert.Equal(t, model.StateAutoApproved, entries[1].To)
	assert.Equal(t, model.StateClosed, entries[2].To)

	state, err := store.CurrentState(ctx, st, "sub-clean")
	require.NoError(t, err)
	assert.Equal(t, model.StateClosed, state)
}

func TestAssessWithoutDocumentsRequiresReview(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), nil)

	// A clean form with nothing uploaded proves nothing: it must reach a
	// reviewer, not sail through on a low score.
	sub := cleanSubmission("sub-nodocs")
	sub.Documents = nil

	res, err := e.Assess(context.Background(), sub)
	require.NoError(t, err)

	require.NotEmpty(t, res.Assessment.Issues)
	var found bool
	for _, is := range res.Assessment.Issues {
		if is.Type == model.IssueMissingDocument {
			found = true
			assert.Equal(t, model.SeverityHigh, is.Severity)
		}
	}
	assert.True(t, found, "missing identity document must be reported")

	assert.Equal(t, model.TierLow, res.Assessment.Tier)
	assert.Equal(t, model.OutcomePendingReview, res.Disposition.Outcome)
	assert.Contains(t, res.Disposition.ReasonCodes, "issue_missing_document")
}

func TestAssessNameVariantRoutesToReview(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), nil)

	sub := cleanSubmission("sub-variant")
	sub.Documents[0].ExtractedFields["name"] = model.ExtractedField{Value: "Ahmad Khan", Confidence: 0.95}

	res, err := e.Assess(context.Background(), sub)
	require.NoError(t, err)

	// A lone transliteration variant on the name lands exactly on the review
	// boundary, never auto-approval.
	assert.Equal(t, 30.0, res.Assessment.Score)
	assert.Equal(t, model.TierMedium, res.Assessment.Tier)
	assert.Equal(t, model.OutcomePendingReview, res.Disposition.Outcome)
	assert.False(t, res.Disposition.Terminal)
	assert.Contains(t, res.Disposition.ReasonCodes, "partial_match_full_name")
}

func TestAssessIdentityMismatchFlags(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), nil)

	sub := cleanSubmission("sub-mismatch")
	sub.FormFields["cnic"] = "54321-7654321-9"

	res, err := e.Assess(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, model.TierHigh, res.Assessment.Tier)
	assert.Equal(t, model.OutcomeFlagged, res.Disposition.Outcome)
	assert.Contains(t, res.Disposition.ReasonCodes, "mismatch_cnic")
}

func TestAssessStaleAddressProofNeverAutoApproves(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), nil)

	sub := cleanSubmission("sub-stale")
	sub.Documents = append(sub.Documents, model.Document{
		Type: "utility_bill",
		Side: model.SideFront,
		ExtractedFields: map[string]model.ExtractedField{
			"bill_date": {Value: "2020-01-01", Confidence: 0.9},
			"address":   {Value: "12 Main Street Lahore", Confidence: 0.9},
		},
		QualityScore: 80,
	})

	res, err := e.Assess(context.Background(), sub)
	require.NoError(t, err)

	// The score alone stays in the low band, but a high-severity issue blocks
	// auto-approval.
	assert.Equal(t, model.TierLow, res.Assessment.Tier)
	assert.Equal(t, model.OutcomePendingReview, res.Disposition.Outcome)
	assert.Contains(t, res.Disposition.ReasonCodes, "issue_stale_address_proof")
}

func TestAssessBlendsSignalScore(t *testing.T) {
	cfg := testConfig()
	cfg.Signal.Enabled = true
	e, _ := newTestEngine(t, cfg, &stubSignal{score: 80})

	res, err := e.Assess(context.Background(), cleanSubmission("sub-signal"))
	require.NoError(t, err)

	// rule 0 * 0.6 + signal 80 * 0.4 = 32.
	assert.InDelta(t, 32.0, res.Assessment.Score, 1e-9)
	assert.Equal(t, 0.0, res.Assessment.RuleScore)
	assert.True(t, res.Assessment.AISignal.Available)
	assert.Equal(t, model.TierMedium, res.Assessment.Tier)
	assert.Equal(t, model.OutcomePendingReview, res.Disposition.Outcome)
}

func TestAssessSignalFailureDegradesToRuleOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Signal.Enabled = true
	cfg.Signal.MaxAttempts = 1
	e, _ := newTestEngine(t, cfg, &stubSignal{err: eris.New("service down")})

	res, err := e.Assess(context.Background(), cleanSubmission("sub-degraded"))
	require.NoError(t, err, "a dead signal service must not fail the assessment")

	assert.False(t, res.Assessment.AISignal.Available)
	assert.Equal(t, 0.0, res.Assessment.Score)
	assert.Equal(t, model.OutcomeAutoApproved, res.Disposition.Outcome)
}

func TestAssessUnsupportedCountryIsFatal(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), nil)

	sub := cleanSubmission("sub-xx")
	sub.CountryCode = "XX"

	_, err := e.Assess(context.Background(), sub)
	assert.ErrorIs(t, err, rules.ErrUnsupportedCountry)
}

func TestReassessmentAppendsVersionsAndMayEscalate(t *testing.T) {
	e, st := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	sub := cleanSubmission("sub-re")
	sub.Documents[0].ExtractedFields["name"] = model.ExtractedField{Value: "Ahmad Khan", Confidence: 0.95}
	res, err := e.Assess(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assessment.Version)
	assert.Equal(t, model.OutcomePendingReview, res.Disposition.Outcome)

	// Second pass with a corrected document fixes the partial but the state
	// must not move backward from pending_review.
	res2, err := e.Assess(ctx, cleanSubmission("sub-re"))
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Assessment.Version)
	assert.Equal(t, model.OutcomePendingReview, res2.Disposition.Outcome)

	state, err := store.CurrentState(ctx, st, "sub-re")
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingReview, state)

	// A worse re-assessment escalates to flagged.
	worse := cleanSubmission("sub-re")
	worse.FormFields["cnic"] = "54321-7654321-9"
	res3, err := e.Assess(ctx, worse)
	require.NoError(t, err)
	assert.Equal(t, 3, res3.Assessment.Version)
	assert.Equal(t, model.OutcomeFlagged, res3.Disposition.Outcome)

	history, err := st.ListAssessments(ctx, "sub-re")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestDecideClosesSubmission(t *testing.T) {
	e, st := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	sub := cleanSubmission("sub-decide")
	sub.Documents[0].ExtractedFields["name"] = model.ExtractedField{Value: "Ahmad Khan", Confidence: 0.95}
	_, err := e.Assess(ctx, sub)
	require.NoError(t, err)

	d, err := e.Decide(ctx, model.ReviewerDecision{
		SubmissionID: "sub-decide",
		Decision:     "approve",
		ReviewerID:   "reviewer-9",
		Notes:        "name variant confirmed against registry",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApproved, d.Outcome)
	assert.True(t, d.Terminal)

	state, err := store.CurrentState(ctx, st, "sub-decide")
	require.NoError(t, err)
	assert.Equal(t, model.StateClosed, state)

	// Closed means closed.
	_, err = e.Decide(ctx, model.ReviewerDecision{
		SubmissionID: "sub-decide", Decision: "reject", ReviewerID: "reviewer-9",
	})
	require.Error(t, err)
}

func TestAssessBatchIsolatesFailures(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), nil)

	bad := cleanSubmission("sub-bad")
	bad.CountryCode = "XX"
	subs := []model.Submission{
		*cleanSubmission("sub-a"),
		*bad,
		*cleanSubmission("sub-b"),
	}

	items := e.AssessBatch(context.Background(), subs)
	require.Len(t, items, 3)

	assert.Empty(t, items[0].Err)
	require.NotNil(t, items[0].Result)
	assert.Equal(t, model.OutcomeAutoApproved, items[0].Result.Disposition.Outcome)

	assert.NotEmpty(t, items[1].Err)
	assert.Nil(t, items[1].Result)

	assert.Empty(t, items[2].Err)
	require.NotNil(t, items[2].Result)
}
