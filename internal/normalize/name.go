package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// honorifics stripped from the front of personal names.
var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true,
	"dr": true, "prof": true, "sir": true, "madam": true, "eng": true,
}

// markStripper removes combining marks after NFD decomposition, so accented
// letters canonicalize to their base letter.
var markStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

func foldMarks(s string) string {
	out, _, err := transform.String(markStripper, s)
	if err != nil {
		return s
	}
	return out
}

// Name canonicalizes a personal name: diacritics folded, case folded,
// honorifics stripped, punctuation dropped, whitespace collapsed.
func Name(raw string) string {
	folded := strings.ToLower(foldMarks(raw))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '\'':
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for len(tokens) > 0 && honorifics[tokens[0]] {
		tokens = tokens[1:]
	}
	return strings.Join(tokens, " ")
}

// ComparisonKey reduces a canonical name to a transliteration-tolerant key.
// Romanized variants of the same name ("ahmad"/"ahmed", "mohammed"/"muhamad")
// collapse to the same key: doubled letters are squeezed and non-leading
// vowels dropped per token. Equal keys with unequal canonical values signal a
// partial match, never a full one.
func ComparisonKey(name string) string {
	canon := Name(name)
	tokens := strings.Fields(canon)
	for i, tok := range tokens {
		tokens[i] = skeletonToken(tok)
	}
	return strings.Join(tokens, " ")
}

func skeletonToken(tok string) string {
	var b strings.Builder
	b.Grow(len(tok))
	var prev rune
	for i, r := range tok {
		if r == prev {
			continue
		}
		if i > 0 && isVowel(r) {
			prev = r
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
