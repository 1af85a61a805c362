package ingest

import "strings"

// PhraseParser joins known multi-word phrases into single tokens so that
// "credit card" counts as one feature instead of two unrelated words.
type PhraseParser struct {
	dict   map[string]string // phrase or variant -> canonical
	maxLen int
}

// DictEntry is one phrase dictionary line: a canonical phrase and the
// variants that should be rewritten to it.
type DictEntry struct {
	Canonical string
	Variants  []string
}

// NewPhraseParser creates a parser over the given dictionary entries.
func NewPhraseParser(entries []DictEntry) *PhraseParser {
	p := &PhraseParser{dict: make(map[string]string), maxLen: 1}
	for _, e := range entries {
		canonical := strings.ToLower(strings.TrimSpace(e.Canonical))
		if canonical == "" {
			continue
		}
		p.add(canonical, canonical)
		for _, v := range e.Variants {
			p.add(strings.ToLower(strings.TrimSpace(v)), canonical)
		}
	}
	return p
}

// AddPhrase registers a phrase that maps onto itself.
func (p *PhraseParser) AddPhrase(phrase string) {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return
	}
	if _, ok := p.dict[phrase]; ok {
		return
	}
	p.add(phrase, phrase)
}

func (p *PhraseParser) add(key, canonical string) {
	if key == "" {
		return
	}
	p.dict[key] = canonical
	if l := len(strings.Fields(key)); l > p.maxLen {
		p.maxLen = l
	}
}

// Parse applies greedy longest-match over the token stream.
func (p *PhraseParser) Parse(tokens []string) []string {
	if len(p.dict) == 0 {
		return tokens
	}

	result := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		matched := ""
		matchLen := 1

		maxPhrase := p.maxLen
		if remaining := len(tokens) - i; maxPhrase > remaining {
			maxPhrase = remaining
		}
		for n := maxPhrase; n >= 2; n-- {
			if canonical, ok := p.dict[strings.Join(tokens[i:i+n], " ")]; ok {
				matched = canonical
				matchLen = n
				break
			}
		}

		if matched == "" {
			if canonical, ok := p.dict[tokens[i]]; ok {
				matched = canonical
			} else {
				matched = tokens[i]
			}
		}
		result = append(result, matched)
		i += matchLen
	}
	return result
}
