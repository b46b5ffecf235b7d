package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var quoteReplacer = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
)

// sanitizedMovieFields are the movie payload fields run through String.
var sanitizedMovieFields = []string{"content", "name", "origin_name", "trailer_url", "filename"}

// String canonicalizes upstream text: NFC normalization, straightened
// smart quotes, and non-printable runes stripped.
func String(s string) string {
	s = norm.NFC.String(s)
	s = quoteReplacer.Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sanitizeMovie cleans the well-known text fields of a raw movie payload.
func sanitizeMovie(movie map[string]any) {
	for _, field := range sanitizedMovieFields {
		if raw, ok := movie[field]; ok {
			if s, ok := raw.(string); ok {
				movie[field] = String(s)
			}
		}
	}
}
