package atom

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTerm fixes the canonical form for search terms (§9 open question:
// "pick and document one canonical form"): NFC-normalize, case-fold, then
// split on runs of whitespace and punctuation. The returned tokens are the
// terms indexed and queried by the search chunk.
//
// This is deliberately simple: no stemming, no locale-aware segmentation. A
// term indexed as "Jeff's" and queried as "jeff" or "s" will both match,
// which is the documented behavior, not an accident of a missing rule.
func NormalizeTerm(s string) []string {
	folded := norm.NFC.String(strings.ToLower(s))

	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range folded {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return tokens
}
