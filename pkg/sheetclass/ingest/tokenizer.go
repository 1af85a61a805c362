package ingest

import (
	"strings"
	"unicode"

	"github.com/cognicore/sheetclass/pkg/sheetclass/lexicon"
)

// Tokenizer splits text into lowercase word tokens and drops stopwords.
type Tokenizer struct {
	stopwords map[string]struct{}
	lexicon   *lexicon.Lexicon
}

// NewTokenizer creates a tokenizer with the given stopword list
func NewTokenizer(stopwords []string) *Tokenizer {
	stops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return &Tokenizer{stopwords: stops}
}

// SetLexicon makes the tokenizer fold variants onto their canonical form.
func (t *Tokenizer) SetLexicon(lex *lexicon.Lexicon) {
	t.lexicon = lex
}

// Tokenize splits text on anything that is not a letter, digit or hyphen.
// Tokens keep their order and may repeat; the pipeline deduplicates.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		if word := t.processToken(current.String()); word != "" {
			tokens = append(tokens, word)
		}
		current.Reset()
	}

	for _, r := range text {
		switch {
		case r == '\'':
			// "don't" -> "dont"
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-':
			current.WriteRune(unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// Keyword normalizes a caller-supplied keyword. Multi-word keywords are
// kept as a single space-joined token.
func (t *Tokenizer) Keyword(keyword string) string {
	words := t.Tokenize(keyword)
	if len(words) == 0 {
		return ""
	}
	phrase := strings.Join(words, " ")
	if t.lexicon != nil {
		phrase = t.lexicon.Normalize(phrase)
	}
	return phrase
}

func (t *Tokenizer) processToken(token string) string {
	word := cleanToken(token)
	if len(word) <= 1 {
		return ""
	}

	// "2024" carries no class signal; "gpt-4" and "utf-8" do.
	if isNumericOnly(word) {
		return ""
	}

	if t.lexicon != nil {
		word = t.lexicon.Normalize(word)
	}

	if t.IsStopword(word) {
		return ""
	}
	return word
}

// cleanToken strips leading/trailing hyphens and collapses runs of hyphens.
func cleanToken(token string) string {
	token = strings.Trim(token, "-")
	for strings.Contains(token, "--") {
		token = strings.ReplaceAll(token, "--", "-")
	}
	return token
}

func isNumericOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '-' {
			return false
		}
	}
	return true
}

// IsStopword reports whether word is in the stoplist.
func (t *Tokenizer) IsStopword(word string) bool {
	_, ok := t.stopwords[word]
	return ok
}

// AddStopword adds a word to the stopword list
func (t *Tokenizer) AddStopword(word string) {
	t.stopwords[strings.ToLower(word)] = struct{}{}
}

// RemoveStopword removes a word from the stopword list
func (t *Tokenizer) RemoveStopword(word string) {
	delete(t.stopwords, strings.ToLower(word))
}
