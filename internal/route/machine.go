// Package route implements the disposition state machine. Transitions only
// move forward, every transition is recorded as an audit entry, and the only
// external event that closes a submission is a reviewer decision.
package route

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/veridoc/kyc-engine/internal/model"
)

var (
	// ErrInvalidTransition is returned for any move the machine does not allow.
	ErrInvalidTransition = eris.New("route: invalid state transition")
	// ErrTerminal is returned when acting on an already-closed submission.
	ErrTerminal = eris.New("route: disposition is terminal")
	// ErrUnknownDecision is returned for reviewer decisions outside approve/reject.
	ErrUnknownDecision = eris.New("route: unknown reviewer decision")
)

// transitions is the full forward-only edge set. Anything absent is invalid.
var transitions = map[model.State][]model.State{
	model.StateReceived: {model.StateAssessed},
	model.StateAssessed: {model.StateAutoApproved, model.StatePendingReview, model.StateFlagged},

	// auto_approved is terminal in effect but still records a close edge so the
	// audit trail always ends in closed.
	model.StateAutoApproved: {model.StateClosed},

	// Re-assessment may escalate pending_review, never de-escalate.
	model.StatePendingReview: {model.StateFlagged, model.StateClosed},
	model.StateFlagged:       {model.StateClosed},
}

// Machine routes assessed submissions and validates state transitions.
type Machine struct {
	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a routing Machine.
func New() *Machine {
	return &Machine{nowFunc: time.Now}
}

// CanTransition reports whether from -> to is an allowed edge.
func (m *Machine) CanTransition(from, to model.State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Route maps a risk assessment onto its outcome state. The guards are
// deliberately strict: auto-approval requires both a low tier and a clean
// issue list, so a low score can never launder a serious defect past review.
func (m *Machine) Route(a *model.RiskAssessment) (model.State, model.Outcome, []string) {
	reasons := reasonCodes(a)

	switch {
	case a.Tier == model.TierHigh:
		return model.StateFlagged, model.OutcomeFlagged, reasons
	case a.Tier == model.TierMedium, a.HasIssueAtLeast(model.SeverityMedium):
		return model.StatePendingReview, model.OutcomePendingReview, reasons
	default:
		return model.StateAutoApproved, model.OutcomeAutoApproved, reasons
	}
}

// Transition validates an edge and returns its audit entry. The entry is not
// persisted here; the caller appends it so storage failures stay visible at
// the call site.
func (m *Machine) Transition(submissionID string, from, to model.State, actor string, reasons []string) (model.AuditEntry, error) {
	if !m.CanTransition(from, to) {
		return model.AuditEntry{}, eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return model.AuditEntry{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		From:         from,
		To:           to,
		Actor:        actor,
		ReasonCodes:  reasons,
		At:           m.nowFunc().UTC(),
	}, nil
}

// Disposition builds the system disposition record for a routed outcome.
// auto_approved is terminal; pending_review and flagged stay open for a
// reviewer.
func (m *Machine) Disposition(submissionID string, outcome model.Outcome, reasons []string) model.Disposition {
	return model.Disposition{
		SubmissionID: submissionID,
		Outcome:      outcome,
		ReasonCodes:  reasons,
		Terminal:     outcome == model.OutcomeAutoApproved,
		DecidedAt:    m.nowFunc().UTC(),
		DecidedBy:    model.SystemActor,
	}
}

// Decide applies a reviewer decision to an open disposition, producing the
// terminal disposition and its closing audit entry.
func (m *Machine) Decide(current model.Disposition, state model.State, dec model.ReviewerDecision) (model.Disposition, model.AuditEntry, error) {
	if current.Terminal {
		return model.Disposition{}, model.AuditEntry{}, eris.Wrapf(ErrTerminal, "submission %s", dec.SubmissionID)
	}

	var outcome model.Outcome
	switch dec.Decision {
	case "approve":
		outcome = model.OutcomeApproved
	case "reject":
		outcome = model.OutcomeRejected
	default:
		return model.Disposition{}, model.AuditEntry{}, eris.Wrapf(ErrUnknownDecision, "%q", dec.Decision)
	}

	reasons := []string{"reviewer_" + dec.Decision}
	entry, err := m.Transition(dec.SubmissionID, state, model.StateClosed, dec.ReviewerID, reasons)
	if err != nil {
		return model.Disposition{}, model.AuditEntry{}, err
	}

	return model.Disposition{
		SubmissionID: dec.SubmissionID,
		Outcome:      outcome,
		ReasonCodes:  reasons,
		Terminal:     true,
		DecidedAt:    m.nowFunc().UTC(),
		DecidedBy:    dec.ReviewerID,
		Notes:        dec.Notes,
	}, entry, nil
}

// reasonCodes summarizes why the assessment routed where it did. Codes are
// stable strings meant for reviewer dashboards, not prose.
func reasonCodes(a *model.RiskAssessment) []string {
	var codes []string
	codes = append(codes, "tier_"+string(a.Tier))
	if a.Overridden {
		codes = append(codes, "tier_override")
	}
	seen := make(map[string]bool)
	for _, is := range a.Issues {
		if !is.Severity.AtLeast(model.SeverityMedium) {
			continue
		}
		code := "issue_" + string(is.Type)
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	for _, c := range a.Comparisons {
		if c.Verdict == model.VerdictMismatch || c.Verdict == model.VerdictPartialMatch {
			codes = append(codes, string(c.Verdict)+"_"+c.FieldName)
		}
	}
	return codes
}
