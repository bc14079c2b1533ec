// Package normalize canonicalizes raw extracted and user-entered field values
// so downstream comparison is well-defined. All normalizers are deterministic
// and idempotent: normalizing an already-canonical value returns it unchanged.
package normalize

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// FieldType selects the normalizer for a value.
type FieldType string

const (
	TypeName       FieldType = "name"
	TypeNationalID FieldType = "national_id"
	TypeDate       FieldType = "date"
	TypeAddress    FieldType = "address"
	TypePostcode   FieldType = "postcode"
	TypePhone      FieldType = "phone"
	TypeText       FieldType = "text"
)

// ErrUnparseable is returned when a value cannot be parsed under any accepted
// format for its field type. Callers must treat the value as missing, not as
// a failure of the pipeline.
var ErrUnparseable = eris.New("normalize: unparseable value")

// Normalize canonicalizes raw for the given field type. The country code is
// accepted for parity with the catalog but canonicalization itself is
// country-agnostic; country-specific shape lives in catalog patterns.
func Normalize(raw string, ft FieldType, country string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.Wrap(ErrUnparseable, "normalize: empty value")
	}

	switch ft {
	case TypeName:
		return Name(raw), nil
	case TypeNationalID:
		return NationalID(raw), nil
	case TypeDate:
		return Date(raw)
	case TypeAddress:
		return Address(raw), nil
	case TypePostcode:
		return Postcode(raw), nil
	case TypePhone:
		return Phone(raw), nil
	default:
		return collapseSpaces(strings.ToLower(raw)), nil
	}
}

// NationalID strips separators and whitespace and uppercases the rest. Format
// checking against the country pattern is the caller's concern.
func NationalID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Postcode uppercases and strips all whitespace.
func Postcode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if !unicode.IsSpace(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Phone keeps digits and a leading plus sign.
func Phone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// addressAbbrev maps common street abbreviations to their long form so that
// "12 Main St" and "12 Main Street" compare equal.
var addressAbbrev = map[string]string{
	"st":   "street",
	"rd":   "road",
	"ave":  "avenue",
	"blvd": "boulevard",
	"ln":   "lane",
	"dr":   "drive",
	"apt":  "apartment",
	"fl":   "floor",
	"no":   "number",
}

// Address case-folds, strips punctuation, expands common abbreviations, and
// collapses whitespace.
func Address(raw string) string {
	folded := foldMarks(strings.ToLower(raw))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == ',' || r == '.' || r == '-' || r == '/':
			b.WriteRune(' ')
		}
	}
	tokens := strings.Fields(b.String())
	for i, tok := range tokens {
		if long, ok := addressAbbrev[tok]; ok {
			tokens[i] = long
		}
	}
	return strings.Join(tokens, " ")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
