// Package match implements the two-level text normalization pipeline and the
// fuzzy identity resolver used to reconcile spreadsheet-declared group and
// instructor names against the synchronized Zoom cache.
//
// Two normalization levels exist because the two lookup strategies need
// different key shapes:
//
//   - Canonical collapses a name to a compact alphanumeric key for O(1)
//     exact dictionary lookup ("English Online - Grupo A" → "a").
//   - Normalize keeps word boundaries so the token-set scorer can compare
//     names tolerant of word reordering ("Smith John" vs "John Smith").
//
// Both are pure string→string functions: deterministic, idempotent, and
// total (empty input yields empty output, never an error).
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopwords are domain tokens that carry no identity: modality, language,
// level, organization, and location markers that sheet authors sprinkle
// into group and instructor names.
var stopwords = map[string]struct{}{
	// Modalities
	"online": {}, "presencial": {}, "virtual": {}, "hibrido": {}, "remoto": {},
	// Languages
	"english": {}, "espanol": {}, "aleman": {}, "coreano": {}, "chino": {},
	"ruso": {}, "japones": {}, "frances": {}, "italiano": {}, "mandarin": {},
	// Levels and courses
	"nivelacion": {}, "beginner": {}, "repaso": {}, "crash": {},
	"complete": {}, "revision": {},
	// Organization / structure
	"grupo": {}, "bvp": {}, "bvs": {}, "pia": {}, "mod": {}, "otg": {}, "kids": {},
	// Location / country
	"per": {}, "ven": {}, "arg": {}, "uru": {},
	// Others
	"true": {}, "business": {}, "impact": {}, "social": {}, "travel": {},
	"gerencia": {}, "beca": {}, "camacho": {},
}

// stopwordPatterns covers the inflected and numbered stopword families that
// a flat set cannot express.
var stopwordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^electiv[oa]s?$`),
	regexp.MustCompile(`^leccion(?:es)?$`),
	regexp.MustCompile(`^repit[eo]?$`),
	regexp.MustCompile(`^evaluacion(?:es)?$`),
	regexp.MustCompile(`^look\d*$`),
	regexp.MustCompile(`^tz\d+$`),
}

var wordRE = regexp.MustCompile(`[\pL\pN_']+`)

// isStopword reports whether a lowercased token is in the stopword
// dictionary or matches one of the pattern families.
func isStopword(tok string) bool {
	if _, ok := stopwords[tok]; ok {
		return true
	}
	for _, re := range stopwordPatterns {
		if re.MatchString(tok) {
			return true
		}
	}
	return false
}

// dropStopwords lowercases s, splits it into word tokens, removes stopword
// tokens, and rejoins the remainder with single spaces.
func dropStopwords(s string) string {
	tokens := wordRE.FindAllString(strings.ToLower(s), -1)
	kept := tokens[:0]
	for _, tok := range tokens {
		if !isStopword(tok) {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// stripMarks removes diacritics by NFKD-decomposing the string and dropping
// every combining mark, so "José" and "Jose" normalize identically.
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

func removeDiacritics(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// Canonical normalizes s to its strict canonical form: lowercase, diacritics
// stripped, stopwords removed, and every non-alphanumeric rune dropped.
// The result is the exact-lookup key precomputed at cache-write time.
// Inputs differing only by case, accents, punctuation, whitespace, or
// stopword content canonicalize identically. Diacritics come off before the
// stopword filter runs so that accented stopword spellings ("Nivelación")
// match the accent-free dictionary.
func Canonical(s string) string {
	s = removeDiacritics(s)
	s = dropStopwords(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

var (
	apostropheRE = regexp.MustCompile("[’‘ʻ‚]")
	dashRE       = regexp.MustCompile(`[-_–—]`)
	digitsRE     = regexp.MustCompile(`\d+`)
	spacesRE     = regexp.MustCompile(`\s+`)
)

// Normalize normalizes s for fuzzy comparison: same diacritics and stopword
// treatment as Canonical, but word boundaries survive. Apostrophe variants
// unify to ' before tokenization so possessives and names like O'Brien stay
// one token, dashes and other punctuation become token breaks, digits are
// stripped, and runs of whitespace collapse to a single space. The result
// keeps the token structure the token-set scorer needs; it must never be
// compressed to alphanumeric-only.
func Normalize(s string) string {
	s = removeDiacritics(s)
	s = apostropheRE.ReplaceAllString(s, "'")
	s = dashRE.ReplaceAllString(s, " ")
	s = dropStopwords(s)
	s = digitsRE.ReplaceAllString(s, "")
	s = spacesRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
