// Package model defines the domain types shared across the assessment engine.
package model

import "time"

// DocumentSide identifies which face of a physical document was captured.
type DocumentSide string

const (
	SideFront DocumentSide = "front"
	SideBack  DocumentSide = "back"
)

// FieldSource says where a field value came from.
type FieldSource string

const (
	SourceForm     FieldSource = "form"
	SourceDocument FieldSource = "document"
)

// ExtractedField is a single OCR-extracted value with its extraction confidence.
type ExtractedField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// QualityFlags carries the quality hints reported by the external vision service.
// All flags default to the benign value so a missing analysis record reads as clean.
type QualityFlags struct {
	IsBlurry          bool   `json:"is_blurry,omitempty"`
	HasGlare          bool   `json:"has_glare,omitempty"`
	IsTooDark         bool   `json:"is_too_dark,omitempty"`
	IsTooBright       bool   `json:"is_too_bright,omitempty"`
	LowResolution     bool   `json:"low_resolution,omitempty"`
	CornersCut        bool   `json:"corners_cut,omitempty"`
	TextUnreadable    bool   `json:"text_unreadable,omitempty"`
	IsRotated         bool   `json:"is_rotated,omitempty"`
	HasObstructions   bool   `json:"has_obstructions,omitempty"`
	PhotoMissing      bool   `json:"photo_missing,omitempty"`
	DetectedType      string `json:"detected_type,omitempty"`
	WrongDocumentType bool   `json:"wrong_document_type,omitempty"`
}

// Document is one uploaded document side plus the structured output of the
// external vision/OCR collaborator.
type Document struct {
	Type            string                    `json:"type"`
	Side            DocumentSide              `json:"side"`
	ExtractedFields map[string]ExtractedField `json:"extracted_fields,omitempty"`
	Quality         QualityFlags              `json:"quality"`
	QualityScore    float64                   `json:"quality_score"`
}

// Submission is one user submission: the hand-filled form plus uploaded documents.
// Immutable once scored; re-assessment appends a new RiskAssessment version.
type Submission struct {
	ID          string            `json:"id"`
	CountryCode string            `json:"country_code"`
	FormFields  map[string]string `json:"form_fields"`
	Documents   []Document        `json:"documents"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Field returns the form value for name and whether it was supplied non-empty.
func (s *Submission) Field(name string) (string, bool) {
	v, ok := s.FormFields[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// DocumentFields flattens extracted fields across all documents. When the same
// field appears on multiple sides the higher-confidence extraction wins.
func (s *Submission) DocumentFields() map[string]ExtractedField {
	out := make(map[string]ExtractedField)
	for _, doc := range s.Documents {
		for name, f := range doc.ExtractedFields {
			if prev, ok := out[name]; !ok || f.Confidence > prev.Confidence {
				out[name] = f
			}
		}
	}
	return out
}

// SidesUploaded returns the distinct uploaded sides per document type.
func (s *Submission) SidesUploaded(docType string) []DocumentSide {
	seen := make(map[DocumentSide]bool)
	var sides []DocumentSide
	for _, doc := range s.Documents {
		if doc.Type == docType && !seen[doc.Side] {
			seen[doc.Side] = true
			sides = append(sides, doc.Side)
		}
	}
	return sides
}
