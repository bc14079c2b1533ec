package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/veridoc/kyc-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id           TEXT PRIMARY KEY,
	country_code TEXT NOT NULL,
	form_fields  TEXT NOT NULL,
	documents    TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS assessments (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id),
	version       INTEGER NOT NULL,
	score         REAL NOT NULL,
	tier          TEXT NOT NULL,
	payload       TEXT NOT NULL,
	computed_at   DATETIME NOT NULL,
	UNIQUE (submission_id, version)
);

CREATE TABLE IF NOT EXISTS dispositions (
	submission_id TEXT PRIMARY KEY REFERENCES submissions(id),
	outcome       TEXT NOT NULL,
	reason_codes  TEXT NOT NULL,
	terminal      INTEGER NOT NULL DEFAULT 0,
	decided_at    DATETIME NOT NULL,
	decided_by    TEXT NOT NULL,
	notes         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_log (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id),
	from_state    TEXT NOT NULL,
	to_state      TEXT NOT NULL,
	actor         TEXT NOT NULL,
	reason_codes  TEXT NOT NULL,
	at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_country ON submissions(country_code);
CREATE INDEX IF NOT EXISTS idx_assessments_submission ON assessments(submission_id, version);
CREATE INDEX IF NOT EXISTS idx_audit_submission ON audit_log(submission_id, at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	fieldsJSON, err := json.Marshal(sub.FormFields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal form fields")
	}
	docsJSON, err := json.Marshal(sub.Documents)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal documents")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, country_code, form_fields, documents, created_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.CountryCode, string(fieldsJSON), string(docsJSON), sub.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert submission %s", sub.ID)
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, country_code, form_fields, documents, created_at FROM submissions WHERE id = ?`,
		id,
	)
	return scanSubmission(row)
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT s.id, s.country_code, s.form_fields, s.documents, s.created_at FROM submissions s`
	var args []any

	if filter.Outcome != "" {
		query += ` JOIN dispositions d ON d.submission_id = s.id AND d.outcome = ?`
		args = append(args, filter.Outcome)
	}
	query += ` WHERE 1=1`
	if filter.CountryCode != "" {
		query += ` AND s.country_code = ?`
		args = append(args, filter.CountryCode)
	}
	query += ` ORDER BY s.created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: list submissions iterate")
}

func (s *SQLiteStore) AppendAssessment(ctx context.Context, a *model.RiskAssessment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM assessments WHERE submission_id = ?`,
		a.SubmissionID,
	).Scan(&next)
	if err != nil {
		return eris.Wrap(err, "sqlite: next assessment version")
	}
	a.Version = next

	payload, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal assessment")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assessments (id, submission_id, version, score, tier, payload, computed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubmissionID, a.Version, a.Score, string(a.Tier), string(payload), a.ComputedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert assessment for %s", a.SubmissionID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit assessment")
}

func (s *SQLiteStore) ListAssessments(ctx context.Context, submissionID string) ([]model.RiskAssessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM assessments WHERE submission_id = ? ORDER BY version ASC`,
		submissionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assessments")
	}
	defer rows.Close()

	var out []model.RiskAssessment
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assessment")
		}
		var a model.RiskAssessment
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal assessment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assessments iterate")
}

func (s *SQLiteStore) LatestAssessment(ctx context.Context, submissionID string) (*model.RiskAssessment, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM assessments WHERE submission_id = ? ORDER BY version DESC LIMIT 1`,
		submissionID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "assessment for %s", submissionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest assessment")
	}

	var a model.RiskAssessment
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal assessment")
	}
	return &a, nil
}

func (s *SQLiteStore) UpsertDisposition(ctx context.Context, d model.Disposition) error {
	existing, err := s.GetDisposition(ctx, d.SubmissionID)
	if err != nil && !eris.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && existing.Terminal {
		return eris.Wrapf(ErrTerminalDisposition, "submission %s", d.SubmissionID)
	}

	reasonsJSON, err := json.Marshal(d.ReasonCodes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reason codes")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dispositions (submission_id, outcome, reason_codes, terminal, decided_at, decided_by, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (submission_id) DO UPDATE SET
		   outcome = excluded.outcome,
		   reason_codes = excluded.reason_codes,
		   terminal = excluded.terminal,
		   decided_at = excluded.decided_at,
		   decided_by = excluded.decided_by,
		   notes = excluded.notes`,
		d.SubmissionID, string(d.Outcome), string(reasonsJSON), boolToInt(d.Terminal), d.DecidedAt, d.DecidedBy, d.Notes,
	)
	return eris.Wrapf(err, "sqlite: upsert disposition %s", d.SubmissionID)
}

func (s *SQLiteStore) GetDisposition(ctx context.Context, submissionID string) (*model.Disposition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT submission_id, outcome, reason_codes, terminal, decided_at, decided_by, notes
		 FROM dispositions WHERE submission_id = ?`,
		submissionID,
	)

	var d model.Disposition
	var reasonsJSON string
	var terminal int
	err := row.Scan(&d.SubmissionID, &d.Outcome, &reasonsJSON, &terminal, &d.DecidedAt, &d.DecidedBy, &d.Notes)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "disposition for %s", submissionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get disposition")
	}
	if err := json.Unmarshal([]byte(reasonsJSON), &d.ReasonCodes); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal reason codes")
	}
	d.Terminal = terminal != 0
	return &d, nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	reasonsJSON, err := json.Marshal(e.ReasonCodes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reason codes")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, submission_id, from_state, to_state, actor, reason_codes, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SubmissionID, string(e.From), string(e.To), e.Actor, string(reasonsJSON), e.At,
	)
	return eris.Wrapf(err, "sqlite: insert audit entry for %s", e.SubmissionID)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, submissionID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, from_state, to_state, actor, reason_codes, at
		 FROM audit_log WHERE submission_id = ? ORDER BY at ASC, id ASC`,
		submissionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var reasonsJSON string
		if err := rows.Scan(&e.ID, &e.SubmissionID, &e.From, &e.To, &e.Actor, &reasonsJSON, &e.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		if err := json.Unmarshal([]byte(reasonsJSON), &e.ReasonCodes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal reason codes")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSubmission(row scannable) (*model.Submission, error) {
	var sub model.Submission
	var fieldsJSON, docsJSON string

	err := row.Scan(&sub.ID, &sub.CountryCode, &fieldsJSON, &docsJSON, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "submission")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan submission")
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &sub.FormFields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal form fields")
	}
	if err := json.Unmarshal([]byte(docsJSON), &sub.Documents); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal documents")
	}
	return &sub, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
