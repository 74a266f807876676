// Package tokenizer turns file names and paths into normalized search terms.
// It strips diacritics, lower-cases input and splits on path separators and
// any other non-alphanumeric boundary.
package tokenizer

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultMinLength keeps every non-empty token.
const DefaultMinLength = 1

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenizer is safe for concurrent use.
type Tokenizer struct {
	minLength int
}

// New returns a Tokenizer that drops terms shorter than minLength runes.
// Values below 1 select DefaultMinLength.
func New(minLength int) *Tokenizer {
	if minLength < 1 {
		minLength = DefaultMinLength
	}
	return &Tokenizer{minLength: minLength}
}

var defaultTokenizer = New(DefaultMinLength)

// Default returns a Tokenizer with DefaultMinLength.
func Default() *Tokenizer { return defaultTokenizer }

// MinLength is the shortest term the tokenizer keeps.
func (t *Tokenizer) MinLength() int { return t.minLength }

// Tokenize breaks text into folded Tokens. Positions count kept tokens only,
// so the n-th returned token has Position n.
func (t *Tokenizer) Tokenize(text string) []Token {
	words := strings.FieldsFunc(Fold(text), isSeparator)
	tokens := make([]Token, 0, len(words))
	for _, word := range words {
		if utf8.RuneCountInString(word) < t.minLength {
			continue
		}
		tokens = append(tokens, Token{
			Term:     word,
			Position: len(tokens),
		})
	}
	return tokens
}

// Normalize returns the ordered terms of text, duplicates included.
func (t *Tokenizer) Normalize(text string) []string {
	tokens := t.Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}

var foldPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	},
}

// Fold decomposes s, drops combining marks and lower-cases the result.
// 'ü' (U+00FC) becomes 'u', 'ﬁ' becomes "fi".
func Fold(s string) string {
	if isASCII(s) {
		return strings.ToLower(s)
	}
	tr := foldPool.Get().(transform.Transformer)
	defer foldPool.Put(tr)
	tr.Reset()
	out, _, err := transform.String(tr, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
