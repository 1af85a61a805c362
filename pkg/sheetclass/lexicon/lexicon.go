package lexicon

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon folds spelling variants of a term onto one canonical token so
// that "colour" in a training row and "color" in a request count as the
// same evidence.
type Lexicon struct {
	// canonical -> variants, canonical first
	groups map[string][]string

	// variant -> canonical
	reverse map[string]string
}

// New creates an empty lexicon.
func New() *Lexicon {
	return &Lexicon{
		groups:  make(map[string][]string),
		reverse: make(map[string]string),
	}
}

type file struct {
	Synonyms []struct {
		Canonical string   `yaml:"canonical"`
		Variants  []string `yaml:"variants"`
	} `yaml:"synonyms"`
}

// LoadFromYAML reads synonym groups from a YAML file.
//
// Expected format:
//
//	synonyms:
//	  - canonical: refund
//	    variants: [refunds, refunded, money back]
//	  - canonical: login
//	    variants: [log-in, signin, sign-in]
func LoadFromYAML(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a lexicon from YAML bytes in the LoadFromYAML format.
func Parse(data []byte) (*Lexicon, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}

	lex := New()
	for _, entry := range f.Synonyms {
		if strings.TrimSpace(entry.Canonical) == "" {
			continue
		}
		lex.AddSynonymGroup(entry.Canonical, entry.Variants)
	}
	return lex, nil
}

// AddSynonymGroup registers variants for a canonical form. Re-adding a
// canonical replaces its previous group.
func (l *Lexicon) AddSynonymGroup(canonical string, variants []string) {
	canonical = strings.ToLower(strings.TrimSpace(canonical))

	if old, ok := l.groups[canonical]; ok {
		for _, v := range old {
			delete(l.reverse, v)
		}
	}

	group := make([]string, 0, len(variants)+1)
	seen := map[string]bool{canonical: true}
	group = append(group, canonical)
	for _, v := range variants {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		group = append(group, v)
	}

	l.groups[canonical] = group
	for _, v := range group {
		l.reverse[v] = canonical
	}
}

// Normalize returns the canonical form of a token, or the lowercased token
// itself when it is unknown.
func (l *Lexicon) Normalize(token string) string {
	token = strings.ToLower(token)
	if canonical, ok := l.reverse[token]; ok {
		return canonical
	}
	return token
}

// Variants returns the whole group a token belongs to, canonical first.
func (l *Lexicon) Variants(token string) []string {
	token = strings.ToLower(token)
	if canonical, ok := l.reverse[token]; ok {
		return l.groups[canonical]
	}
	return []string{token}
}

// Phrases returns every multi-word variant, longest first. The ingest
// pipeline feeds these to its phrase parser.
func (l *Lexicon) Phrases() []string {
	var out []string
	for v := range l.reverse {
		if strings.Contains(v, " ") {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Stats reports the size of the lexicon.
func (l *Lexicon) Stats() Stats {
	total := 0
	for _, g := range l.groups {
		total += len(g)
	}
	return Stats{Groups: len(l.groups), Variants: total}
}

// Stats holds lexicon counts.
type Stats struct {
	Groups   int
	Variants int
}
