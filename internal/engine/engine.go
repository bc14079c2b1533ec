// Package engine orchestrates the assessment pipeline: rule resolution,
// issue detection, cross-field validation, signal fetch, scoring, routing,
// and persistence. Detection and validation run concurrently with the signal
// fetch; everything joins before scoring so the score always sees complete
// inputs.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veridoc/kyc-engine/internal/compare"
	"github.com/veridoc/kyc-engine/internal/config"
	"github.com/veridoc/kyc-engine/internal/detect"
	"github.com/veridoc/kyc-engine/internal/model"
	"github.com/veridoc/kyc-engine/internal/resilience"
	"github.com/veridoc/kyc-engine/internal/route"
	"github.com/veridoc/kyc-engine/internal/rules"
	"github.com/veridoc/kyc-engine/internal/score"
	"github.com/veridoc/kyc-engine/internal/store"
	"github.com/veridoc/kyc-engine/pkg/signal"
)

// ErrInvariantViolation is returned when the validator does not produce
// exactly one result per cross-check field. It indicates a bug, never bad
// user input, so the assessment is aborted rather than persisted.
var ErrInvariantViolation = eris.New("engine: comparison invariant violated")

// Result bundles everything one assessment produced.
type Result struct {
	Submission  *model.Submission     `json:"submission"`
	Assessment  *model.RiskAssessment `json:"assessment"`
	Disposition model.Disposition     `json:"disposition"`
	Audit       []model.AuditEntry    `json:"audit"`
}

// BatchItem is one submission's outcome within a batch run.
type BatchItem struct {
	SubmissionID string  `json:"submission_id"`
	Result       *Result `json:"result,omitempty"`
	Err          string  `json:"error,omitempty"`
}

// Engine wires the pipeline stages together.
type Engine struct {
	cfg        *config.Config
	catalog    *rules.Catalog
	store      store.Store
	detector   *detect.Detector
	comparator *compare.Comparator
	scorer     *score.Scorer
	machine    *route.Machine
	signal     signal.Client
}

// New creates an Engine. signalClient may be nil; assessments then run
// rule-only.
func New(cfg *config.Config, catalog *rules.Catalog, st store.Store, signalClient signal.Client) *Engine {
	return &Engine{
		cfg:        cfg,
		catalog:    catalog,
		store:      st,
		detector:   detect.New(cfg.Engine, cfg.Scoring),
		comparator: compare.New(),
		scorer:     score.New(cfg.Scoring),
		machine:    route.New(),
		signal:     signalClient,
	}
}

// Assess runs the full pipeline for one submission and persists the
// submission, assessment, disposition, and audit trail. An unsupported
// country is fatal; a failed signal fetch is not.
func (e *Engine) Assess(ctx context.Context, sub *model.Submission) (*Result, error) {
	rs, err := e.catalog.ForCountry(sub.CountryCode)
	if err != nil {
		return nil, err
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	log := zap.L().With(zap.String("submission_id", sub.ID), zap.String("country", rs.Code))

	existing, err := e.store.GetSubmission(ctx, sub.ID)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		return nil, err
	}
	isNew := existing == nil
	if isNew {
		if err := e.store.CreateSubmission(ctx, sub); err != nil {
			return nil, err
		}
	}

	// Detection and validation are pure functions of the submission; the
	// signal fetch is network-bound. Run all three and join before scoring.
	var (
		issues      []model.Issue
		comparisons []model.ComparisonResult
		sig         model.AISignal
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		issues = e.detector.Detect(sub, rs)
		return nil
	})
	g.Go(func() error {
		comparisons = e.comparator.Compare(sub, rs)
		return nil
	})
	g.Go(func() error {
		sig = e.fetchSignal(gCtx, sub, log)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := checkComparisonInvariant(comparisons, rs); err != nil {
		return nil, err
	}

	assessment := e.scorer.Score(issues, comparisons, sig)
	assessment.ID = uuid.NewString()
	assessment.SubmissionID = sub.ID
	if err := e.store.AppendAssessment(ctx, assessment); err != nil {
		return nil, err
	}

	log.Info("assessment computed",
		zap.Float64("score", assessment.Score),
		zap.String("tier", string(assessment.Tier)),
		zap.Int("version", assessment.Version),
		zap.Int("issues", len(issues)),
		zap.Bool("signal", sig.Available),
	)

	disposition, audit, err := e.routeAssessment(ctx, sub.ID, assessment, isNew)
	if err != nil {
		return nil, err
	}

	return &Result{
		Submission:  sub,
		Assessment:  assessment,
		Disposition: disposition,
		Audit:       audit,
	}, nil
}

// routeAssessment advances the state machine for a fresh assessment and
// persists the disposition plus every audit entry.
func (e *Engine) routeAssessment(ctx context.Context, submissionID string, a *model.RiskAssessment, isNew bool) (model.Disposition, []model.AuditEntry, error) {
	current, err := store.CurrentState(ctx, e.store, submissionID)
	if err != nil {
		return model.Disposition{}, nil, err
	}

	var entries []model.AuditEntry
	push := func(entry model.AuditEntry, err error) error {
		if err != nil {
			return err
		}
		if err := e.store.AppendAudit(ctx, entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		current = entry.To
		return nil
	}

	if isNew || current == model.StateReceived {
		entry, err := e.machine.Transition(submissionID, model.StateReceived, model.StateAssessed, model.SystemActor, nil)
		if err := push(entry, err); err != nil {
			return model.Disposition{}, nil, err
		}
	}

	target, outcome, reasons := e.machine.Route(a)

	if current != target {
		from := current
		if from != model.StateAssessed && !e.machine.CanTransition(from, target) {
			// Re-assessment that would move backward keeps the prior state; the
			// new assessment version is still on record.
			zap.L().Warn("re-assessment would regress state, keeping current",
				zap.String("submission_id", submissionID),
				zap.String("current", string(from)),
				zap.String("target", string(target)),
			)
			disposition, err := e.currentDisposition(ctx, submissionID)
			return disposition, entries, err
		}
		entry, err := e.machine.Transition(submissionID, from, target, model.SystemActor, reasons)
		if err := push(entry, err); err != nil {
			return model.Disposition{}, nil, err
		}
	}

	disposition := e.machine.Disposition(submissionID, outcome, reasons)
	if err := e.store.UpsertDisposition(ctx, disposition); err != nil {
		return model.Disposition{}, nil, err
	}

	// Auto-approval needs no human, so its trail closes immediately.
	if target == model.StateAutoApproved {
		entry, err := e.machine.Transition(submissionID, target, model.StateClosed, model.SystemActor, reasons)
		if err := push(entry, err); err != nil {
			return model.Disposition{}, nil, err
		}
	}

	return disposition, entries, nil
}

func (e *Engine) currentDisposition(ctx context.Context, submissionID string) (model.Disposition, error) {
	d, err := e.store.GetDisposition(ctx, submissionID)
	if err != nil {
		return model.Disposition{}, err
	}
	return *d, nil
}

// Decide applies a reviewer decision to an open submission, closing it.
func (e *Engine) Decide(ctx context.Context, dec model.ReviewerDecision) (*model.Disposition, error) {
	current, err := e.store.GetDisposition(ctx, dec.SubmissionID)
	if err != nil {
		return nil, err
	}
	state, err := store.CurrentState(ctx, e.store, dec.SubmissionID)
	if err != nil {
		return nil, err
	}

	disposition, entry, err := e.machine.Decide(*current, state, dec)
	if err != nil {
		return nil, err
	}

	if err := e.store.UpsertDisposition(ctx, disposition); err != nil {
		return nil, err
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}

	zap.L().Info("reviewer decision applied",
		zap.String("submission_id", dec.SubmissionID),
		zap.String("decision", dec.Decision),
		zap.String("reviewer", dec.ReviewerID),
	)
	return &disposition, nil
}

// AssessBatch assesses submissions with bounded concurrency. One submission's
// failure never stops the batch; per-item errors come back in the items.
func (e *Engine) AssessBatch(ctx context.Context, subs []model.Submission) []BatchItem {
	items := make([]BatchItem, len(subs))

	g, gCtx := errgroup.WithContext(ctx)
	limit := e.cfg.Engine.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i := range subs {
		g.Go(func() error {
			sub := &subs[i]
			res, err := e.Assess(gCtx, sub)
			items[i] = BatchItem{SubmissionID: sub.ID}
			if err != nil {
				items[i].Err = err.Error()
				zap.L().Error("batch item failed",
					zap.String("submission_id", sub.ID),
					zap.Error(err),
				)
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	_ = g.Wait()

	return items
}

// fetchSignal asks the signal service for a score, degrading to unavailable
// on any failure. The timeout bounds the whole attempt budget so a slow
// service cannot stall the assessment.
func (e *Engine) fetchSignal(ctx context.Context, sub *model.Submission, log *zap.Logger) model.AISignal {
	if e.signal == nil || !e.cfg.Signal.Enabled {
		return model.AISignal{}
	}

	timeout := time.Duration(e.cfg.Signal.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	if e.cfg.Signal.MaxAttempts > 0 {
		retryCfg.MaxAttempts = e.cfg.Signal.MaxAttempts
	}

	resp, err := resilience.Do(ctx, retryCfg, func(ctx context.Context) (*signal.Response, error) {
		return e.signal.Assess(ctx, signal.Request{
			SubmissionID: sub.ID,
			CountryCode:  sub.CountryCode,
			FormFields:   sub.FormFields,
		})
	})
	if err != nil {
		log.Warn("signal unavailable, scoring rule-only", zap.Error(err))
		return model.AISignal{}
	}

	return model.AISignal{
		Available: true,
		Score:     resp.Score,
		Rationale: resp.Rationale,
	}
}

// checkComparisonInvariant verifies exactly one result per cross-check field.
func checkComparisonInvariant(results []model.ComparisonResult, rs *rules.RuleSet) error {
	fields := rs.CrossCheckFields()
	if len(results) != len(fields) {
		return eris.Wrapf(ErrInvariantViolation, "%d results for %d cross-check fields", len(results), len(fields))
	}
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if seen[r.FieldName] {
			return eris.Wrapf(ErrInvariantViolation, "duplicate result for field %s", r.FieldName)
		}
		seen[r.FieldName] = true
	}
	for _, f := range fields {
		if !seen[f.Name] {
			return eris.Wrapf(ErrInvariantViolation, "no result for field %s", f.Name)
		}
	}
	return nil
}
