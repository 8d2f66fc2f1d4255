package match

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/evaluation-cli/internal/model"
)

var schoolSuffixes = regexp.MustCompile(
	`(?i)\s*,?\s*(high school|senior high|jr/sr high|junior high|` +
		`preparatory school|prep school|academy|charter school|high)\s*$`)

var multiSpace = regexp.MustCompile(`\s{2,}`)

// deaccent decomposes to NFD, drops combining marks, and recomposes, so
// "José" and "Jose" normalize identically.
var deaccent = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName lowercases, trims, collapses whitespace, and strips
// diacritics. Used for both identity-key comparison and fuzzy scoring.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(deaccent, s); err == nil {
		s = out
	}
	s = multiSpace.ReplaceAllString(s, " ")
	return s
}

// NormalizeSchool normalizes a school name and strips common institutional
// suffixes so "Lincoln High School" and "Lincoln High" compare equal.
func NormalizeSchool(s string) string {
	n := NormalizeName(s)
	n = schoolSuffixes.ReplaceAllString(n, "")
	return strings.TrimSpace(n)
}

// NormalizeKey returns the identity key in canonical comparison form.
func NormalizeKey(k model.IdentityKey) model.IdentityKey {
	return model.IdentityKey{
		GivenName:  NormalizeName(k.GivenName),
		FamilyName: NormalizeName(k.FamilyName),
		SchoolName: NormalizeSchool(k.SchoolName),
		StateCode:  strings.ToUpper(strings.TrimSpace(k.StateCode)),
	}
}

// fuzzyNameThreshold is the minimum levenshtein similarity for two
// normalized names to count as a fuzzy match ("Jon" vs "John").
const fuzzyNameThreshold = 0.72

// NamesSimilar reports whether two full names are close enough to be the
// same person modulo typos, nicknames, and transliteration.
func NamesSimilar(givenA, familyA, givenB, familyB string) bool {
	a := NormalizeName(givenA) + " " + NormalizeName(familyA)
	b := NormalizeName(givenB) + " " + NormalizeName(familyB)
	return levenshtein.Similarity(a, b, nil) >= fuzzyNameThreshold
}
