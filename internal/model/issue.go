package model

// IssueType enumerates the closed catalog of detectable problems.
type IssueType string

const (
	// Quality issues reported by the vision service or derived from its score.
	IssueBlurry         IssueType = "blurry"
	IssueGlare          IssueType = "glare"
	IssueTooDark        IssueType = "too_dark"
	IssueTooBright      IssueType = "too_bright"
	IssueLowResolution  IssueType = "low_resolution"
	IssueCornersCut     IssueType = "corners_cut"
	IssueTextUnreadable IssueType = "text_unreadable"
	IssueRotated        IssueType = "rotated"
	IssueObstructed     IssueType = "obstructed"
	IssuePhotoMissing   IssueType = "photo_missing"
	IssueQualityAnomaly IssueType = "quality_anomaly"
	IssueLowQuality     IssueType = "low_quality"

	// Structural issues against the country rule set.
	IssueMissingDocument      IssueType = "missing_document"
	IssueMissingSide          IssueType = "missing_side"
	IssueWrongDocument        IssueType = "wrong_document"
	IssueWrongSide            IssueType = "wrong_side"
	IssueExpiredDocument      IssueType = "expired_document"
	IssueStaleAddressProof    IssueType = "stale_address_proof"
	IssueMissingRequiredField IssueType = "missing_required_field"
	IssueInvalidFieldFormat   IssueType = "invalid_field_format"

	// Policy issues from conditional rules.
	IssueConditionalUnmet IssueType = "conditional_requirement_unmet"
)

// Severity buckets issues for capping and routing guards.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Issue is one detected quality, structural, or policy problem.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Weight   float64   `json:"weight"`
	Evidence string    `json:"evidence"`
	Fields   []string  `json:"fields,omitempty"`
}
