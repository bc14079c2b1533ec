package normalize

import (
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
)

// ISODate is the canonical output layout for all date fields.
const ISODate = "2006-01-02"

// dateLayouts are the accepted input formats, tried in order. ISO first so
// canonical values round-trip unchanged; day-first layouts before month-first,
// matching the document conventions of the supported countries.
var dateLayouts = []string{
	ISODate,
	"02-01-2006",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"2.1.2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// digitLayouts cover bare 8-digit OCR output.
var digitLayouts = []string{"20060102", "02012006", "01022006"}

// Date parses a raw date in any accepted format and returns it in ISO form.
// Returns ErrUnparseable when no format applies.
func Date(raw string) (string, error) {
	text := strings.TrimSpace(strings.ReplaceAll(raw, ",", " "))
	text = strings.Join(strings.Fields(text), " ")

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format(ISODate), nil
		}
	}

	// Fallback: strip everything but digits and try compact layouts.
	var digits strings.Builder
	for _, r := range text {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 8 {
		for _, layout := range digitLayouts {
			if t, err := time.Parse(layout, digits.String()); err == nil {
				return t.Format(ISODate), nil
			}
		}
	}

	return "", eris.Wrapf(ErrUnparseable, "normalize: date %q", raw)
}

// ParseISO parses a canonical ISO date. It is the inverse of Date for values
// Date has already produced.
func ParseISO(canonical string) (time.Time, error) {
	t, err := time.Parse(ISODate, canonical)
	if err != nil {
		return time.Time{}, eris.Wrapf(ErrUnparseable, "normalize: iso date %q", canonical)
	}
	return t, nil
}
