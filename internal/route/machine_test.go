package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/kyc-engine/internal/model"
)

func assessment(tier model.Tier, issues []model.Issue, comparisons []model.ComparisonResult) *model.RiskAssessment {
	return &model.RiskAssessment{
		SubmissionID: "sub-1",
		Tier:         tier,
		Issues:       issues,
		Comparisons:  comparisons,
	}
}

func TestRouteGuards(t *testing.T) {
	m := New()

	tests := []struct {
		name        string
		a           *model.RiskAssessment
		wantState   model.State
		wantOutcome model.Outcome
	}{
		{
			name:        "low tier clean auto approves",
			a:           assessment(model.TierLow, nil, nil),
			wantState:   model.StateAutoApproved,
			wantOutcome: model.OutcomeAutoApproved,
		},
		{
			name: "low tier with medium issue goes to review",
			a: assessment(model.TierLow, []model.Issue{
				{Type: model.IssueGlare, Severity: model.SeverityMedium},
			}, nil),
			wantState:   model.StatePendingReview,
			wantOutcome: model.OutcomePendingReview,
		},
		{
			name: "low tier with only low issues still auto approves",
			a: assessment(model.TierLow, []model.Issue{
				{Type: model.IssueRotated, Severity: model.SeverityLow},
			}, nil),
			wantState:   model.StateAutoApproved,
			wantOutcome: model.OutcomeAutoApproved,
		},
		{
			name:        "medium tier goes to review",
			a:           assessment(model.TierMedium, nil, nil),
			wantState:   model.StatePendingReview,
			wantOutcome: model.OutcomePendingReview,
		},
		{
			name:        "high tier flags",
			a:           assessment(model.TierHigh, nil, nil),
			wantState:   model.StateFlagged,
			wantOutcome: model.OutcomeFlagged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, outcome, reasons := m.Route(tt.a)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.NotEmpty(t, reasons)
		})
	}
}

func TestRouteReasonCodes(t *testing.T) {
	m := New()
	a := assessment(model.TierHigh, []model.Issue{
		{Type: model.IssueExpiredDocument, Severity: model.SeverityCritical},
	}, []model.ComparisonResult{
		{FieldName: "cnic", Verdict: model.VerdictMismatch, IdentityNumber: true},
	})
	a.Overridden = true

	_, _, reasons := m.Route(a)
	assert.Contains(t, reasons, "tier_high")
	assert.Contains(t, reasons, "tier_override")
	assert.Contains(t, reasons, "issue_expired_document")
	assert.Contains(t, reasons, "mismatch_cnic")
}

func TestTransitionEdges(t *testing.T) {
	m := New()

	allowed := []struct{ from, to model.State }{
		{model.StateReceived, model.StateAssessed},
		{model.StateAssessed, model.StateAutoApproved},
		{model.StateAssessed, model.StatePendingReview},
		{model.StateAssessed, model.StateFlagged},
		{model.StateAutoApproved, model.StateClosed},
		{model.StatePendingReview, model.StateFlagged},
		{model.StatePendingReview, model.StateClosed},
		{model.StateFlagged, model.StateClosed},
	}
	for _, e := range allowed {
		assert.True(t, m.CanTransition(e.from, e.to), "%s -> %s", e.from, e.to)
	}

	denied := []struct{ from, to model.State }{
		{model.StateAssessed, model.StateReceived},
		{model.StateFlagged, model.StatePendingReview},
		{model.StateClosed, model.StateAssessed},
		{model.StateClosed, model.StateClosed},
		{model.StateAutoApproved, model.StatePendingReview},
		{model.StateReceived, model.StateFlagged},
	}
	for _, e := range denied {
		assert.False(t, m.CanTransition(e.from, e.to), "%s -> %s", e.from, e.to)
	}
}

func TestTransitionProducesAuditEntry(t *testing.T) {
	m := New()

	entry, err := m.Transition("sub-1", model.StateReceived, model.StateAssessed, model.SystemActor, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "sub-1", entry.SubmissionID)
	assert.Equal(t, model.StateReceived, entry.From)
	assert.Equal(t, model.StateAssessed, entry.To)
	assert.Equal(t, model.SystemActor, entry.Actor)
	assert.False(t, entry.At.IsZero())

	_, err = m.Transition("sub-1", model.StateClosed, model.StateAssessed, model.SystemActor, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDispositionTerminality(t *testing.T) {
	m := New()

	d := m.Disposition("sub-1", model.OutcomeAutoApproved, []string{"tier_low"})
	assert.True(t, d.Terminal, "auto approval needs no reviewer")
	assert.Equal(t, model.SystemActor, d.DecidedBy)

	d = m.Disposition("sub-1", model.OutcomePendingReview, []string{"tier_medium"})
	assert.False(t, d.Terminal, "pending review stays open")

	d = m.Disposition("sub-1", model.OutcomeFlagged, []string{"tier_high"})
	assert.False(t, d.Terminal, "flagged stays open")
}

func TestDecide(t *testing.T) {
	m := New()
	open := model.Disposition{SubmissionID: "sub-1", Outcome: model.OutcomePendingReview}

	d, entry, err := m.Decide(open, model.StatePendingReview, model.ReviewerDecision{
		SubmissionID: "sub-1",
		Decision:     "approve",
		ReviewerID:   "reviewer-9",
		Notes:        "documents verified manually",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApproved, d.Outcome)
	assert.True(t, d.Terminal)
	assert.Equal(t, "reviewer-9", d.DecidedBy)
	assert.Equal(t, model.StateClosed, entry.To)
	assert.Equal(t, "reviewer-9", entry.Actor)

	d, _, err = m.Decide(open, model.StateFlagged, model.ReviewerDecision{
		SubmissionID: "sub-1", Decision: "reject", ReviewerID: "reviewer-9",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, d.Outcome)
	assert.True(t, d.Terminal)
}

func TestDecideRejectsTerminalAndUnknown(t *testing.T) {
	m := New()

	terminal := model.Disposition{SubmissionID: "sub-1", Outcome: model.OutcomeApproved, Terminal: true}
	_, _, err := m.Decide(terminal, model.StateClosed, model.ReviewerDecision{
		SubmissionID: "sub-1", Decision: "approve", ReviewerID: "r",
	})
	assert.ErrorIs(t, err, ErrTerminal)

	open := model.Disposition{SubmissionID: "sub-1", Outcome: model.OutcomePendingReview}
	_, _, err = m.Decide(open, model.StatePendingReview, model.ReviewerDecision{
		SubmissionID: "sub-1", Decision: "escalate", ReviewerID: "r",
	})
	assert.ErrorIs(t, err, ErrUnknownDecision)
}
