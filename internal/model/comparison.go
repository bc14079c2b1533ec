package model

// Verdict is the outcome of comparing a form field against its document counterpart.
type Verdict string

const (
	VerdictMatch        Verdict = "match"
	VerdictPartialMatch Verdict = "partial_match"
	VerdictMismatch     Verdict = "mismatch"
	VerdictMissing      Verdict = "missing"
)

// ComparisonResult records one cross-field check. Confidence is the minimum of
// the two sides' extraction confidences (the form side counts as 1.0).
type ComparisonResult struct {
	FieldName     string  `json:"field_name"`
	FormValue     string  `json:"form_value"`
	DocumentValue string  `json:"document_value"`
	Verdict       Verdict `json:"verdict"`
	Confidence    float64 `json:"confidence"`
	// Importance is the scoring weight of this field, copied from the rule set
	// so an assessment is reproducible without re-reading the catalog.
	Importance float64 `json:"importance"`
	// IdentityNumber marks fields whose mismatch hard-overrides the tier.
	IdentityNumber bool `json:"identity_number,omitempty"`
}
