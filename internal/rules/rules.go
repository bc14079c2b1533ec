// Package rules loads and validates the versioned per-country rule catalog.
// The catalog is pure data: detectors and validators stay country-agnostic and
// adding a country is a catalog change, not a code change.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/veridoc/kyc-engine/internal/model"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// ErrUnsupportedCountry is returned when no active rule set exists for a
// submitted country. Callers must reject the submission before scoring.
var ErrUnsupportedCountry = eris.New("rules: unsupported country")

// DocumentRule describes one accepted document type for a country.
type DocumentRule struct {
	Type           string               `yaml:"type" json:"type"`
	Name           string               `yaml:"name" json:"name"`
	Sides          []model.DocumentSide `yaml:"sides" json:"sides"`
	Identity       bool                 `yaml:"identity,omitempty" json:"identity,omitempty"`
	AddressProof   bool                 `yaml:"address_proof,omitempty" json:"address_proof,omitempty"`
	ExpiryCheck    bool                 `yaml:"expiry_check,omitempty" json:"expiry_check,omitempty"`
	MaxAgeDays     int                  `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty"`
	RequiredFields []string             `yaml:"required_fields,omitempty" json:"required_fields,omitempty"`
}

// RequiresSide reports whether the document type requires the given side.
func (d *DocumentRule) RequiresSide(side model.DocumentSide) bool {
	for _, s := range d.Sides {
		if s == side {
			return true
		}
	}
	return false
}

// FieldRule describes one form field: its normalizer type, optional validation
// pattern, and how it cross-checks against a document-extracted field.
type FieldRule struct {
	Name          string  `yaml:"name" json:"name"`
	DocumentField string  `yaml:"document_field,omitempty" json:"document_field,omitempty"`
	Type          string  `yaml:"type" json:"type"`
	Pattern       string  `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Required      bool    `yaml:"required,omitempty" json:"required,omitempty"`
	CrossCheck    bool    `yaml:"cross_check,omitempty" json:"cross_check,omitempty"`
	Importance    float64 `yaml:"importance,omitempty" json:"importance,omitempty"`
	IdentityNum   bool    `yaml:"identity_number,omitempty" json:"identity_number,omitempty"`

	re *regexp.Regexp
}

// MatchesPattern reports whether a raw value satisfies the field's validation
// pattern. Fields without a pattern always match.
func (f *FieldRule) MatchesPattern(value string) bool {
	if f.re == nil {
		return true
	}
	return f.re.MatchString(value)
}

// ConditionalRule expresses "predicate on form fields → extra requirement".
type ConditionalRule struct {
	WhenField       string `yaml:"when_field" json:"when_field"`
	Equals          string `yaml:"equals" json:"equals"`
	RequireDocument string `yaml:"require_document" json:"require_document"`
	Reason          string `yaml:"reason" json:"reason"`
}

// RuleSet is the active configuration for one country. Immutable at runtime.
type RuleSet struct {
	Code         string            `yaml:"code" json:"code"`
	Name         string            `yaml:"name" json:"name"`
	Documents    []DocumentRule    `yaml:"documents" json:"documents"`
	Fields       []FieldRule       `yaml:"fields" json:"fields"`
	Conditionals []ConditionalRule `yaml:"conditional_rules,omitempty" json:"conditional_rules,omitempty"`

	byDocType map[string]*DocumentRule
	byField   map[string]*FieldRule
}

// Document returns the rule for a document type, or nil.
func (r *RuleSet) Document(docType string) *DocumentRule {
	return r.byDocType[docType]
}

// Field returns the rule for a form field name, or nil.
func (r *RuleSet) Field(name string) *FieldRule {
	return r.byField[name]
}

// IdentityDocuments returns the document rules that can prove identity. A
// submission must carry at least one of them.
func (r *RuleSet) IdentityDocuments() []*DocumentRule {
	var out []*DocumentRule
	for i := range r.Documents {
		if r.Documents[i].Identity {
			out = append(out, &r.Documents[i])
		}
	}
	return out
}

// CrossCheckFields returns the fields that must each produce exactly one
// comparison result.
func (r *RuleSet) CrossCheckFields() []*FieldRule {
	var out []*FieldRule
	for i := range r.Fields {
		if r.Fields[i].CrossCheck {
			out = append(out, &r.Fields[i])
		}
	}
	return out
}

// Catalog is the full versioned rule catalog keyed by country code.
type Catalog struct {
	Version   int       `yaml:"version" json:"version"`
	Countries []RuleSet `yaml:"countries" json:"countries"`

	byCode map[string]*RuleSet
}

// Load parses and validates the embedded catalog.
func Load() (*Catalog, error) {
	return parse(embeddedCatalog)
}

// LoadFile parses and validates a catalog override file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read catalog %s", path)
	}
	return parse(data)
}

func parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrap(err, "rules: unmarshal catalog")
	}
	if err := cat.index(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// index builds lookup maps, compiles patterns, and validates invariants.
func (c *Catalog) index() error {
	if c.Version <= 0 {
		return eris.New("rules: catalog version must be positive")
	}
	c.byCode = make(map[string]*RuleSet, len(c.Countries))

	var errs []string
	for i := range c.Countries {
		rs := &c.Countries[i]
		code := strings.ToUpper(rs.Code)
		rs.Code = code
		if code == "" {
			errs = append(errs, "country with empty code")
			continue
		}
		if _, dup := c.byCode[code]; dup {
			errs = append(errs, fmt.Sprintf("duplicate country %s", code))
			continue
		}
		c.byCode[code] = rs

		rs.byDocType = make(map[string]*DocumentRule, len(rs.Documents))
		var identityDocs int
		for j := range rs.Documents {
			d := &rs.Documents[j]
			if d.Identity {
				identityDocs++
			}
			if _, dup := rs.byDocType[d.Type]; dup {
				errs = append(errs, fmt.Sprintf("%s: duplicate document type %s", code, d.Type))
				continue
			}
			if len(d.Sides) == 0 {
				errs = append(errs, fmt.Sprintf("%s/%s: no required sides", code, d.Type))
			}
			if d.AddressProof && d.MaxAgeDays <= 0 {
				errs = append(errs, fmt.Sprintf("%s/%s: address proof needs a positive max_age_days", code, d.Type))
			}
			rs.byDocType[d.Type] = d
		}
		if identityDocs == 0 {
			errs = append(errs, fmt.Sprintf("%s: no identity document declared", code))
		}

		rs.byField = make(map[string]*FieldRule, len(rs.Fields))
		for j := range rs.Fields {
			f := &rs.Fields[j]
			if _, dup := rs.byField[f.Name]; dup {
				errs = append(errs, fmt.Sprintf("%s: duplicate field %s", code, f.Name))
				continue
			}
			if f.Pattern != "" {
				re, err := regexp.Compile(f.Pattern)
				if err != nil {
					errs = append(errs, fmt.Sprintf("%s/%s: bad pattern: %v", code, f.Name, err))
				} else {
					f.re = re
				}
			}
			if f.CrossCheck && f.Importance <= 0 {
				f.Importance = 1.0
			}
			if f.CrossCheck && f.DocumentField == "" {
				f.DocumentField = f.Name
			}
			rs.byField[f.Name] = f
		}

		for _, cond := range rs.Conditionals {
			if rs.byDocType[cond.RequireDocument] == nil {
				errs = append(errs, fmt.Sprintf("%s: conditional rule requires unknown document %s", code, cond.RequireDocument))
			}
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("rules: catalog validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ForCountry returns the active rule set for a country code.
func (c *Catalog) ForCountry(code string) (*RuleSet, error) {
	rs, ok := c.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedCountry, "rules: country %s", code)
	}
	return rs, nil
}

// SupportedCountries lists the catalog's country codes in declaration order.
func (c *Catalog) SupportedCountries() []string {
	codes := make([]string, 0, len(c.Countries))
	for i := range c.Countries {
		codes = append(codes, c.Countries[i].Code)
	}
	return codes
}
