package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/veridoc/kyc-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id           TEXT PRIMARY KEY,
	country_code TEXT NOT NULL,
	form_fields  JSONB NOT NULL,
	documents    JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assessments (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id),
	version       INTEGER NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	tier          TEXT NOT NULL,
	payload       JSONB NOT NULL,
	computed_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (submission_id, version)
);

CREATE TABLE IF NOT EXISTS dispositions (
	submission_id TEXT PRIMARY KEY REFERENCES submissions(id),
	outcome       TEXT NOT NULL,
	reason_codes  JSONB NOT NULL,
	terminal      BOOLEAN NOT NULL DEFAULT false,
	decided_at    TIMESTAMPTZ NOT NULL,
	decided_by    TEXT NOT NULL,
	notes         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_log (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id),
	from_state    TEXT NOT NULL,
	to_state      TEXT NOT NULL,
	actor         TEXT NOT NULL,
	reason_codes  JSONB NOT NULL,
	at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_country ON submissions(country_code);
CREATE INDEX IF NOT EXISTS idx_assessments_submission ON assessments(submission_id, version);
CREATE INDEX IF NOT EXISTS idx_audit_submission ON audit_log(submission_id, at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	fieldsJSON, err := json.Marshal(sub.FormFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal form fields")
	}
	docsJSON, err := json.Marshal(sub.Documents)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal documents")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (id, country_code, form_fields, documents, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.CountryCode, fieldsJSON, docsJSON, sub.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert submission %s", sub.ID)
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, country_code, form_fields, documents, created_at FROM submissions WHERE id = $1`,
		id,
	)
	return scanPgSubmission(row)
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT s.id, s.country_code, s.form_fields, s.documents, s.created_at FROM submissions s`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Outcome != "" {
		query += ` JOIN dispositions d ON d.submission_id = s.id AND d.outcome = ` + arg(filter.Outcome)
	}
	query += ` WHERE true`
	if filter.CountryCode != "" {
		query += ` AND s.country_code = ` + arg(filter.CountryCode)
	}
	query += ` ORDER BY s.created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanPgSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

func (s *PostgresStore) AppendAssessment(ctx context.Context, a *model.RiskAssessment) error {
	// Version assignment and insert in one statement keeps the append atomic
	// without an explicit transaction.
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM assessments WHERE submission_id = $1`,
		a.SubmissionID,
	).Scan(&next)
	if err != nil {
		return eris.Wrap(err, "postgres: next assessment version")
	}
	a.Version = next

	payload, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal assessment")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO assessments (id, submission_id, version, score, tier, payload, computed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.SubmissionID, a.Version, a.Score, string(a.Tier), payload, a.ComputedAt,
	)
	return eris.Wrapf(err, "postgres: insert assessment for %s", a.SubmissionID)
}

func (s *PostgresStore) ListAssessments(ctx context.Context, submissionID string) ([]model.RiskAssessment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM assessments WHERE submission_id = $1 ORDER BY version ASC`,
		submissionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assessments")
	}
	defer rows.Close()

	var out []model.RiskAssessment
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assessment")
		}
		var a model.RiskAssessment
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal assessment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assessments iterate")
}

func (s *PostgresStore) LatestAssessment(ctx context.Context, submissionID string) (*model.RiskAssessment, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM assessments WHERE submission_id = $1 ORDER BY version DESC LIMIT 1`,
		submissionID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "assessment for %s", submissionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest assessment")
	}

	var a model.RiskAssessment
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal assessment")
	}
	return &a, nil
}

func (s *PostgresStore) UpsertDisposition(ctx context.Context, d model.Disposition) error {
	existing, err := s.GetDisposition(ctx, d.SubmissionID)
	if err != nil && !eris.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && existing.Terminal {
		return eris.Wrapf(ErrTerminalDisposition, "submission %s", d.SubmissionID)
	}

	reasonsJSON, err := json.Marshal(d.ReasonCodes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal reason codes")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dispositions (submission_id, outcome, reason_codes, terminal, decided_at, decided_by, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (submission_id) DO UPDATE SET
		   outcome = excluded.outcome,
		   reason_codes = excluded.reason_codes,
		   terminal = excluded.terminal,
		   decided_at = excluded.decided_at,
		   decided_by = excluded.decided_by,
		   notes = excluded.notes`,
		d.SubmissionID, string(d.Outcome), reasonsJSON, d.Terminal, d.DecidedAt, d.DecidedBy, d.Notes,
	)
	return eris.Wrapf(err, "postgres: upsert disposition %s", d.SubmissionID)
}

func (s *PostgresStore) GetDisposition(ctx context.Context, submissionID string) (*model.Disposition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT submission_id, outcome, reason_codes, terminal, decided_at, decided_by, notes
		 FROM dispositions WHERE submission_id = $1`,
		submissionID,
	)

	var d model.Disposition
	var reasonsJSON []byte
	err := row.Scan(&d.SubmissionID, &d.Outcome, &reasonsJSON, &d.Terminal, &d.DecidedAt, &d.DecidedBy, &d.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "disposition for %s", submissionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get disposition")
	}
	if err := json.Unmarshal(reasonsJSON, &d.ReasonCodes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal reason codes")
	}
	return &d, nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	reasonsJSON, err := json.Marshal(e.ReasonCodes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal reason codes")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, submission_id, from_state, to_state, actor, reason_codes, at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.SubmissionID, string(e.From), string(e.To), e.Actor, reasonsJSON, e.At,
	)
	return eris.Wrapf(err, "postgres: insert audit entry for %s", e.SubmissionID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, submissionID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, submission_id, from_state, to_state, actor, reason_codes, at
		 FROM audit_log WHERE submission_id = $1 ORDER BY at ASC, id ASC`,
		submissionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var reasonsJSON []byte
		if err := rows.Scan(&e.ID, &e.SubmissionID, &e.From, &e.To, &e.Actor, &reasonsJSON, &e.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		if err := json.Unmarshal(reasonsJSON, &e.ReasonCodes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal reason codes")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func scanPgSubmission(row pgx.Row) (*model.Submission, error) {
	var sub model.Submission
	var fieldsJSON, docsJSON []byte

	err := row.Scan(&sub.ID, &sub.CountryCode, &fieldsJSON, &docsJSON, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "submission")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan submission")
	}

	if err := json.Unmarshal(fieldsJSON, &sub.FormFields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal form fields")
	}
	if err := json.Unmarshal(docsJSON, &sub.Documents); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal documents")
	}
	return &sub, nil
}
