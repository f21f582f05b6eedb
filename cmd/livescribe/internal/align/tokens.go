// Package align stitches recognized chunk texts into one transcript. Adjacent
// chunks share a stretch of audio, so the recognizer returns the same words
// twice; the Aligner finds that overlap against the tail of what was already
// emitted and keeps only the new words.
package align

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is one whitespace-delimited word. Raw is emitted as-is; Norm is the
// comparison key: case-folded, accents removed, punctuation dropped.
type Token struct {
	Raw  string
	Norm string
}

// Normalize folds s for comparison.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tokenize splits text into tokens. A punctuation-only word is glued onto
// the previous token so it survives in the output without taking part in
// matching.
func Tokenize(text string) []Token {
	fields := strings.Fields(text)
	toks := make([]Token, 0, len(fields))
	for _, f := range fields {
		n := Normalize(f)
		if n == "" {
			if len(toks) > 0 {
				toks[len(toks)-1].Raw += f
			}
			continue
		}
		toks = append(toks, Token{Raw: f, Norm: n})
	}
	return toks
}

// Join renders tokens back into text.
func Join(toks []Token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.Raw
	}
	return strings.Join(parts, " ")
}

func normChars(toks []Token) int {
	n := 0
	for _, t := range toks {
		n += len([]rune(t.Norm))
	}
	return n
}

func sameNorm(a, b []Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Norm != b[i].Norm {
			return false
		}
	}
	return true
}
