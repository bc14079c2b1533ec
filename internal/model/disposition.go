package model

import "time"

// State is a routing state machine state.
type State string

const (
	StateReceived      State = "received"
	StateAssessed      State = "assessed"
	StateAutoApproved  State = "auto_approved"
	StatePendingReview State = "pending_review"
	StateFlagged       State = "flagged"
	StateClosed        State = "closed"
)

// Outcome is the routing disposition of a submission.
type Outcome string

const (
	OutcomeAutoApproved  Outcome = "auto_approved"
	OutcomePendingReview Outcome = "pending_review"
	OutcomeFlagged       Outcome = "flagged"
	OutcomeApproved      Outcome = "approved"
	OutcomeRejected      Outcome = "rejected"
)

// SystemActor is the actor recorded for machine-made transitions.
const SystemActor = "system"

// Disposition is the routing outcome record for a submission. System-set
// pending_review/flagged dispositions are provisional until a reviewer closes
// them; auto_approved and reviewer decisions are terminal.
type Disposition struct {
	SubmissionID string    `json:"submission_id"`
	Outcome      Outcome   `json:"outcome"`
	ReasonCodes  []string  `json:"reason_codes"`
	Terminal     bool      `json:"terminal"`
	DecidedAt    time.Time `json:"decided_at"`
	DecidedBy    string    `json:"decided_by"`
	Notes        string    `json:"notes,omitempty"`
}

// AuditEntry records one state transition. The trail is append-only and is the
// primary compliance deliverable.
type AuditEntry struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	Actor        string    `json:"actor"`
	ReasonCodes  []string  `json:"reason_codes,omitempty"`
	At           time.Time `json:"at"`
}

// ReviewerDecision is the sole external event that closes a submission.
type ReviewerDecision struct {
	SubmissionID string `json:"submission_id"`
	Decision     string `json:"decision"` // approve | reject
	ReviewerID   string `json:"reviewer_id"`
	Notes        string `json:"notes,omitempty"`
}
