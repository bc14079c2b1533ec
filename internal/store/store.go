// Package store persists submissions, assessments, dispositions, and the
// audit trail. Assessments and audit entries are append-only; dispositions
// are the single mutable record per submission and refuse updates once
// terminal.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/veridoc/kyc-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrTerminalDisposition is returned when an update would overwrite a
	// terminal disposition.
	ErrTerminalDisposition = eris.New("store: disposition is terminal")
)

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	CountryCode string `json:"country_code,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the assessment pipeline.
type Store interface {
	// Submissions
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error)

	// Assessments, append-only. AppendAssessment assigns the next version.
	AppendAssessment(ctx context.Context, a *model.RiskAssessment) error
	ListAssessments(ctx context.Context, submissionID string) ([]model.RiskAssessment, error)
	LatestAssessment(ctx context.Context, submissionID string) (*model.RiskAssessment, error)

	// Dispositions
	UpsertDisposition(ctx context.Context, d model.Disposition) error
	GetDisposition(ctx context.Context, submissionID string) (*model.Disposition, error)

	// Audit trail, append-only.
	AppendAudit(ctx context.Context, e model.AuditEntry) error
	ListAudit(ctx context.Context, submissionID string) ([]model.AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// CurrentState derives a submission's routing state from its audit trail.
// A submission with no audit entries has only been received.
func CurrentState(ctx context.Context, s Store, submissionID string) (model.State, error) {
	entries, err := s.ListAudit(ctx, submissionID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return model.StateReceived, nil
	}
	return entries[len(entries)-1].To, nil
}
