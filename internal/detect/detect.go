// Package detect evaluates the closed catalog of quality, structural, and
// policy issues against a submission and its country rule set. Detection is
// side-effect-free and deterministic: identical input always yields an
// identical, stably ordered issue set.
package detect

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/veridoc/kyc-engine/internal/config"
	"github.com/veridoc/kyc-engine/internal/model"
	"github.com/veridoc/kyc-engine/internal/normalize"
	"github.com/veridoc/kyc-engine/internal/rules"
)

// addressProofDateFields are tried in order when locating the proof date on an
// address document.
var addressProofDateFields = []string{"bill_date", "statement_date", "date", "issue_date"}

// expiryFields are tried in order when locating a document expiry date.
var expiryFields = []string{"expiry_date", "expiration_date"}

// Detector evaluates submissions against country rules.
type Detector struct {
	engine  config.EngineConfig
	scoring config.ScoringConfig

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Detector with the given thresholds and weights.
func New(engine config.EngineConfig, scoring config.ScoringConfig) *Detector {
	return &Detector{engine: engine, scoring: scoring, nowFunc: time.Now}
}

// Detect returns every issue found on the submission. The result is
// deduplicated by (type, fields) keeping the highest severity, and sorted by
// severity then type for run-to-run stability.
func (d *Detector) Detect(sub *model.Submission, rs *rules.RuleSet) []model.Issue {
	var issues []model.Issue

	for i := range sub.Documents {
		issues = append(issues, d.documentIssues(&sub.Documents[i], rs)...)
	}
	issues = append(issues, d.missingDocumentIssues(sub, rs)...)
	issues = append(issues, d.missingSideIssues(sub, rs)...)
	issues = append(issues, d.missingExtractedIssues(sub, rs)...)
	issues = append(issues, d.formIssues(sub, rs)...)
	issues = append(issues, d.conditionalIssues(sub, rs)...)

	return d.finalize(issues)
}

// documentIssues covers quality flags, anomaly heuristics, wrong type,
// expiry, freshness, and missing extracted fields for one document.
func (d *Detector) documentIssues(doc *model.Document, rs *rules.RuleSet) []model.Issue {
	var issues []model.Issue

	rule := rs.Document(doc.Type)
	if rule == nil {
		issues = append(issues, d.issue(model.IssueWrongDocument, nil,
			fmt.Sprintf("document type %q is not accepted for %s", doc.Type, rs.Code)))
		return issues
	}

	if doc.Side != "" && !rule.RequiresSide(doc.Side) {
		issues = append(issues, d.issue(model.IssueWrongSide, nil,
			fmt.Sprintf("%s does not have a %s side", doc.Type, doc.Side)))
	}

	issues = append(issues, d.qualityIssues(doc)...)

	if doc.Quality.WrongDocumentType && doc.Quality.DetectedType != "" &&
		!strings.EqualFold(doc.Quality.DetectedType, doc.Type) {
		issues = append(issues, d.issue(model.IssueWrongDocument, nil,
			fmt.Sprintf("expected %s but vision detected %s", doc.Type, doc.Quality.DetectedType)))
	}

	if rule.ExpiryCheck {
		issues = append(issues, d.expiryIssues(doc)...)
	}
	if rule.AddressProof {
		issues = append(issues, d.freshnessIssues(doc, rule)...)
	}

	return issues
}

// missingExtractedIssues flags required document fields the vision service
// did not return on any uploaded side of the type.
func (d *Detector) missingExtractedIssues(sub *model.Submission, rs *rules.RuleSet) []model.Issue {
	var issues []model.Issue
	seen := make(map[string]bool)
	for _, doc := range sub.Documents {
		if seen[doc.Type] {
			continue
		}
		seen[doc.Type] = true

		rule := rs.Document(doc.Type)
		if rule == nil {
			continue
		}

		extracted := make(map[string]bool)
		for _, side := range sub.Documents {
			if side.Type != doc.Type {
				continue
			}
			for name, f := range side.ExtractedFields {
				if strings.TrimSpace(f.Value) != "" {
					extracted[name] = true
				}
			}
		}

		var missing []string
		for _, name := range rule.RequiredFields {
			if !extracted[name] {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			issues = append(issues, d.issue(model.IssueMissingRequiredField, missing,
				fmt.Sprintf("could not extract from %s: %s", doc.Type, strings.Join(missing, ", "))))
		}
	}
	return issues
}

// qualityIssues maps vision quality flags and the overall score to issues.
// Blur suppresses corners/text issues so one bad capture doesn't stack.
func (d *Detector) qualityIssues(doc *model.Document) []model.Issue {
	var issues []model.Issue
	q := doc.Quality

	if q.IsBlurry {
		issues = append(issues, d.issue(model.IssueBlurry, nil,
			fmt.Sprintf("%s %s image is too blurry to read", doc.Type, doc.Side)))
	}
	if q.HasGlare {
		issues = append(issues, d.issue(model.IssueGlare, nil,
			fmt.Sprintf("glare covers part of the %s %s", doc.Type, doc.Side)))
	}
	if q.IsTooDark {
		issues = append(issues, d.issue(model.IssueTooDark, nil, "image is too dark to read clearly"))
	}
	if q.IsTooBright {
		issues = append(issues, d.issue(model.IssueTooBright, nil, "image is overexposed"))
	}
	if q.LowResolution {
		issues = append(issues, d.issue(model.IssueLowResolution, nil, "image resolution is too low"))
	}
	if q.IsRotated {
		issues = append(issues, d.issue(model.IssueRotated, nil, "document appears rotated"))
	}
	if q.HasObstructions {
		issues = append(issues, d.issue(model.IssueObstructed, nil, "part of the document is covered"))
	}
	if q.PhotoMissing && doc.Side != model.SideBack {
		issues = append(issues, d.issue(model.IssuePhotoMissing, nil, "photo on the ID is not visible"))
	}
	if !q.IsBlurry {
		if q.CornersCut {
			issues = append(issues, d.issue(model.IssueCornersCut, nil, "document corners are not fully visible"))
		}
		if q.TextUnreadable {
			issues = append(issues, d.issue(model.IssueTextUnreadable, nil, "text on the document cannot be read"))
		}
	}

	if doc.QualityScore >= d.engine.QualityAnomalyThreshold {
		issues = append(issues, d.issue(model.IssueQualityAnomaly, nil,
			fmt.Sprintf("unusually high quality score %.0f/100, possible digital copy or screenshot", doc.QualityScore)))
	} else if doc.QualityScore > 0 && doc.QualityScore < d.engine.LowQualityThreshold {
		issues = append(issues, d.issue(model.IssueLowQuality, nil,
			fmt.Sprintf("very low quality score %.0f/100, document may be intentionally obscured", doc.QualityScore)))
	}

	return issues
}

func (d *Detector) expiryIssues(doc *model.Document) []model.Issue {
	for _, name := range expiryFields {
		f, ok := doc.ExtractedFields[name]
		if !ok || f.Value == "" {
			continue
		}
		iso, err := normalize.Date(f.Value)
		if err != nil {
			continue // unparseable expiry reads as missing, not as expired
		}
		exp, err := normalize.ParseISO(iso)
		if err != nil {
			continue
		}
		if exp.Before(d.nowFunc().UTC().Truncate(24 * time.Hour)) {
			return []model.Issue{d.issue(model.IssueExpiredDocument, []string{name},
				fmt.Sprintf("%s expired on %s", doc.Type, iso))}
		}
		return nil
	}
	return nil
}

// freshnessIssues enforces the address-proof max age window.
func (d *Detector) freshnessIssues(doc *model.Document, rule *rules.DocumentRule) []model.Issue {
	var raw string
	var fieldName string
	for _, name := range addressProofDateFields {
		if f, ok := doc.ExtractedFields[name]; ok && f.Value != "" {
			raw, fieldName = f.Value, name
			break
		}
	}
	if raw == "" {
		return []model.Issue{d.issue(model.IssueMissingRequiredField, []string{"bill_date"},
			fmt.Sprintf("no date detected on %s", doc.Type))}
	}

	iso, err := normalize.Date(raw)
	if err != nil {
		return nil
	}
	proofDate, err := normalize.ParseISO(iso)
	if err != nil {
		return nil
	}

	cutoff := d.nowFunc().UTC().AddDate(0, 0, -rule.MaxAgeDays)
	if proofDate.Before(cutoff) {
		return []model.Issue{d.issue(model.IssueStaleAddressProof, []string{fieldName},
			fmt.Sprintf("%s dated %s is older than the %d-day freshness window", doc.Type, iso, rule.MaxAgeDays))}
	}
	return nil
}

// missingDocumentIssues flags submissions that carry no identity document at
// all. Countries may accept several identity types; any one of them satisfies
// the requirement.
func (d *Detector) missingDocumentIssues(sub *model.Submission, rs *rules.RuleSet) []model.Issue {
	identity := rs.IdentityDocuments()
	if len(identity) == 0 {
		return nil
	}

	uploaded := make(map[string]bool, len(sub.Documents))
	for i := range sub.Documents {
		uploaded[sub.Documents[i].Type] = true
	}

	accepted := make([]string, 0, len(identity))
	for _, rule := range identity {
		if uploaded[rule.Type] {
			return nil
		}
		accepted = append(accepted, rule.Type)
	}

	return []model.Issue{d.issue(model.IssueMissingDocument, nil,
		fmt.Sprintf("no identity document uploaded; %s accepts %s", rs.Code, strings.Join(accepted, ", ")))}
}

// missingSideIssues flags required sides that were never uploaded for a
// document type the user did submit.
func (d *Detector) missingSideIssues(sub *model.Submission, rs *rules.RuleSet) []model.Issue {
	var issues []model.Issue
	seen := make(map[string]bool)
	for _, doc := range sub.Documents {
		if seen[doc.Type] {
			continue
		}
		seen[doc.Type] = true

		rule := rs.Document(doc.Type)
		if rule == nil {
			continue
		}
		uploaded := make(map[model.DocumentSide]bool)
		for _, s := range sub.SidesUploaded(doc.Type) {
			uploaded[s] = true
		}
		for _, side := range rule.Sides {
			if !uploaded[side] {
				issues = append(issues, d.issue(model.IssueMissingSide, nil,
					fmt.Sprintf("the %s side of %s is required but was not uploaded", side, doc.Type)))
			}
		}
	}
	return issues
}

// formIssues validates form fields against the rule set's patterns.
func (d *Detector) formIssues(sub *model.Submission, rs *rules.RuleSet) []model.Issue {
	var issues []model.Issue
	for i := range rs.Fields {
		f := &rs.Fields[i]
		raw, ok := sub.Field(f.Name)
		if !ok {
			if f.Required {
				issues = append(issues, d.issue(model.IssueMissingRequiredField, []string{f.Name},
					fmt.Sprintf("required form field %s is missing", f.Name)))
			}
			continue
		}
		if f.Pattern == "" {
			continue
		}
		canon, err := normalize.Normalize(raw, normalize.FieldType(f.Type), rs.Code)
		if err != nil {
			canon = raw
		}
		if !f.MatchesPattern(canon) && !f.MatchesPattern(raw) {
			issues = append(issues, d.issue(model.IssueInvalidFieldFormat, []string{f.Name},
				fmt.Sprintf("form field %s does not match the expected %s format", f.Name, rs.Code)))
		}
	}
	return issues
}

// conditionalIssues enforces predicate-driven extra requirements.
func (d *Detector) conditionalIssues(sub *model.Submission, rs *rules.RuleSet) []model.Issue {
	var issues []model.Issue
	for _, cond := range rs.Conditionals {
		v, ok := sub.Field(cond.WhenField)
		if !ok || !strings.EqualFold(strings.TrimSpace(v), cond.Equals) {
			continue
		}
		supplied := false
		for _, doc := range sub.Documents {
			if doc.Type == cond.RequireDocument {
				supplied = true
				break
			}
		}
		if !supplied {
			issues = append(issues, d.issue(model.IssueConditionalUnmet, []string{cond.WhenField},
				cond.Reason))
		}
	}
	return issues
}

func (d *Detector) issue(t model.IssueType, fields []string, evidence string) model.Issue {
	sev := severityOf[t]
	return model.Issue{
		Type:     t,
		Severity: sev,
		Weight:   weightFor(sev, d.scoring),
		Evidence: evidence,
		Fields:   fields,
	}
}

// finalize deduplicates by (type, fields) keeping the highest severity and
// sorts for stable output.
func (d *Detector) finalize(issues []model.Issue) []model.Issue {
	byKey := make(map[string]model.Issue, len(issues))
	for _, is := range issues {
		key := string(is.Type) + "|" + strings.Join(is.Fields, ",")
		if prev, ok := byKey[key]; !ok || is.Severity.Rank() > prev.Severity.Rank() {
			byKey[key] = is
		}
	}

	out := make([]model.Issue, 0, len(byKey))
	for _, is := range byKey {
		out = append(out, is)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return strings.Join(out[i].Fields, ",") < strings.Join(out[j].Fields, ",")
	})
	return out
}
