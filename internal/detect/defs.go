package detect

import (
	"github.com/veridoc/kyc-engine/internal/config"
	"github.com/veridoc/kyc-engine/internal/model"
)

// severityOf fixes the severity tier of every issue type in the closed
// catalog. Severities are stable across runs; only weights are tunable.
var severityOf = map[model.IssueType]model.Severity{
	model.IssueBlurry:         model.SeverityHigh,
	model.IssueGlare:          model.SeverityMedium,
	model.IssueTooDark:        model.SeverityMedium,
	model.IssueTooBright:      model.SeverityMedium,
	model.IssueLowResolution:  model.SeverityMedium,
	model.IssueCornersCut:     model.SeverityHigh,
	model.IssueTextUnreadable: model.SeverityHigh,
	model.IssueRotated:        model.SeverityLow,
	model.IssueObstructed:     model.SeverityMedium,
	model.IssuePhotoMissing:   model.SeverityHigh,
	model.IssueQualityAnomaly: model.SeverityMedium,
	model.IssueLowQuality:     model.SeverityMedium,

	model.IssueMissingDocument:      model.SeverityHigh,
	model.IssueMissingSide:          model.SeverityHigh,
	model.IssueWrongDocument:        model.SeverityHigh,
	model.IssueWrongSide:            model.SeverityMedium,
	model.IssueExpiredDocument:      model.SeverityCritical,
	model.IssueStaleAddressProof:    model.SeverityHigh,
	model.IssueMissingRequiredField: model.SeverityMedium,
	model.IssueInvalidFieldFormat:   model.SeverityMedium,

	model.IssueConditionalUnmet: model.SeverityHigh,
}

// weightFor resolves the score weight of a severity tier from config.
func weightFor(sev model.Severity, cfg config.ScoringConfig) float64 {
	switch sev {
	case model.SeverityLow:
		return cfg.LowWeight
	case model.SeverityMedium:
		return cfg.MediumWeight
	case model.SeverityHigh:
		return cfg.HighWeight
	case model.SeverityCritical:
		return cfg.CriticalWeight
	default:
		return 0
	}
}
