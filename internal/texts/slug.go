package texts

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/mcodex/internal/apperr"
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	disallowedRe  = regexp.MustCompile(`[^a-z0-9_]+`)
	underscoresRe = regexp.MustCompile(`_+`)
)

// Slugify normalizes a title into a slug: lowercase ASCII, diacritics
// stripped, runs of anything outside [a-z0-9_] collapsed to one underscore.
func Slugify(title string) (string, error) {
	raw := strings.TrimSpace(title)
	if raw == "" {
		return "", apperr.Validation("title must not be empty")
	}
	raw = cases.Lower(language.Und).String(raw)

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(runes.Predicate(nonASCII)))
	plain, _, err := transform.String(t, raw)
	if err != nil {
		return "", apperr.Validation("title %q cannot be normalized: %v", title, err)
	}

	s := whitespaceRe.ReplaceAllString(plain, "_")
	s = disallowedRe.ReplaceAllString(s, "_")
	s = strings.Trim(underscoresRe.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "", apperr.Validation("title %q is not usable after normalization", title)
	}
	return s, nil
}

func nonASCII(r rune) bool { return r > unicode.MaxASCII }
