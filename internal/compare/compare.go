// Package compare produces match/mismatch verdicts between user-entered form
// fields and OCR-extracted document fields, per the country rule set.
//
// Name fields tolerate transliteration variance ("Ahmad" vs "Ahmed") as a
// partial match so the review queue is not flooded with false positives; ID
// numbers tolerate nothing, because any deviation there is a genuine
// discrepancy.
package compare

import (
	"strings"

	"github.com/agext/levenshtein"

	"github.com/veridoc/kyc-engine/internal/model"
	"github.com/veridoc/kyc-engine/internal/normalize"
	"github.com/veridoc/kyc-engine/internal/rules"
)

// addressOverlapThreshold is the minimum token overlap for an address partial
// match.
const addressOverlapThreshold = 0.6

// Comparator compares normalized form fields against normalized document
// fields. Stateless and safe for concurrent use.
type Comparator struct{}

// New creates a Comparator.
func New() *Comparator {
	return &Comparator{}
}

// Compare evaluates every cross-checkable field in the rule set against the
// submission. Exactly one ComparisonResult is produced per cross-check field,
// in rule declaration order.
func (c *Comparator) Compare(sub *model.Submission, rs *rules.RuleSet) []model.ComparisonResult {
	docFields := sub.DocumentFields()

	fields := rs.CrossCheckFields()
	results := make([]model.ComparisonResult, 0, len(fields))
	for _, f := range fields {
		results = append(results, c.compareField(sub, docFields, f, rs.Code))
	}
	return results
}

func (c *Comparator) compareField(sub *model.Submission, docFields map[string]model.ExtractedField, f *rules.FieldRule, country string) model.ComparisonResult {
	res := model.ComparisonResult{
		FieldName:      f.Name,
		Importance:     f.Importance,
		IdentityNumber: f.IdentityNum,
	}

	ft := normalize.FieldType(f.Type)

	formRaw, formOK := sub.Field(f.Name)
	docField, docOK := docFields[f.DocumentField]
	docOK = docOK && strings.TrimSpace(docField.Value) != ""
	if !docOK && ft == normalize.TypeName {
		// MRZ-style documents split the holder's name into surname and
		// given names. Compose them so the cross-check still runs.
		if composed, ok := composedName(docFields); ok {
			docField, docOK = composed, true
		}
	}

	res.FormValue = formRaw
	if docOK {
		res.DocumentValue = docField.Value
	}

	var formCanon, docCanon string
	if formOK {
		v, err := normalize.Normalize(formRaw, ft, country)
		if err != nil {
			formOK = false // unparseable reads as missing, never as a crash
		} else {
			formCanon = v
		}
	}
	if docOK {
		v, err := normalize.Normalize(docField.Value, ft, country)
		if err != nil {
			docOK = false
		} else {
			docCanon = v
		}
	}

	// Conservative confidence: the weaker side bounds the comparison. The
	// form side is user-typed and counts as 1.0.
	res.Confidence = 1.0
	if docOK || docField.Confidence > 0 {
		res.Confidence = min(1.0, docField.Confidence)
	}

	if !formOK || !docOK {
		res.Verdict = model.VerdictMissing
		if !docOK {
			res.Confidence = 0
		}
		return res
	}

	switch {
	case formCanon == docCanon:
		res.Verdict = model.VerdictMatch
	case withinTolerance(formCanon, docCanon, ft):
		res.Verdict = model.VerdictPartialMatch
	default:
		res.Verdict = model.VerdictMismatch
	}
	return res
}

// composedName builds a full name from split given_names/surname extractions.
// Confidence is the weaker of the two parts.
func composedName(docFields map[string]model.ExtractedField) (model.ExtractedField, bool) {
	given, gok := docFields["given_names"]
	surname, sok := docFields["surname"]
	if !gok || !sok ||
		strings.TrimSpace(given.Value) == "" || strings.TrimSpace(surname.Value) == "" {
		return model.ExtractedField{}, false
	}
	conf := given.Confidence
	if surname.Confidence < conf {
		conf = surname.Confidence
	}
	return model.ExtractedField{
		Value:      strings.TrimSpace(given.Value) + " " + strings.TrimSpace(surname.Value),
		Confidence: conf,
	}, true
}

// withinTolerance applies the per-field-type partial-match rule to two
// canonical values known to be unequal.
func withinTolerance(a, b string, ft normalize.FieldType) bool {
	switch ft {
	case normalize.TypeName:
		if normalize.ComparisonKey(a) == normalize.ComparisonKey(b) {
			return true
		}
		return levenshtein.Distance(a, b, nil) <= nameDistanceBudget(a, b)
	case normalize.TypeNationalID, normalize.TypeDate:
		// Zero tolerance: any deviation is a real discrepancy.
		return false
	case normalize.TypeAddress:
		return tokenOverlap(a, b) >= addressOverlapThreshold
	default:
		return levenshtein.Distance(a, b, nil) <= 1
	}
}

// nameDistanceBudget scales the allowed edit distance with name length: one
// edit per eight characters, at least one.
func nameDistanceBudget(a, b string) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	budget := n / 8
	if budget < 1 {
		budget = 1
	}
	return budget
}

// tokenOverlap returns the Jaccard overlap of the two values' token sets.
func tokenOverlap(a, b string) float64 {
	as := strings.Fields(a)
	bs := strings.Fields(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	set := make(map[string]bool, len(as))
	for _, t := range as {
		set[t] = true
	}
	union := make(map[string]bool, len(as)+len(bs))
	for _, t := range as {
		union[t] = true
	}
	var shared int
	for _, t := range bs {
		if set[t] {
			shared++
		}
		union[t] = true
	}
	return float64(shared) / float64(len(union))
}
