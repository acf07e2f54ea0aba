// Text normalisation shared by the near-duplicate hashing and training sample code.
package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// Splits free-form text in to tokens: lower-cased, punctuation and symbols replaced by whitespace, combining marks folded away (so "Gdańsk" becomes "gdansk").
//
// Never returns nil.
func TokenizeText(text string) []string {
	// the transformer is stateful, so it can't be shared between goroutines
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	split := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(fold, split)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		folded = split
	}
	out := strings.Fields(folded)
	if out == nil {
		return []string{}
	}
	return out
}

// Like TokenizeText, but drops single-character tokens, which carry no signal for similarity comparisons.
func ContentTokens(text string) []string {
	toks := TokenizeText(text)
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		if utf8.RuneCountInString(tok) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

// Distinct content tokens of the text.
func TokenSet(text string) map[string]struct{} {
	toks := ContentTokens(text)
	set := make(map[string]struct{}, len(toks))
	for _, tok := range toks {
		set[tok] = struct{}{}
	}
	return set
}
