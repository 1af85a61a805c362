package config

import (
	"fmt"

	"github.com/cognicore/sheetclass/pkg/sheetclass/ingest"
	"github.com/cognicore/sheetclass/pkg/sheetclass/lexicon"
)

// Loader loads the tokenizer resources and constructs the pipeline.
type Loader struct {
	StoplistPath string
	DictPath     string
	LexiconPath  string
}

// Components holds all loaded configuration components
type Components struct {
	Tokenizer *ingest.Tokenizer
	Parser    *ingest.PhraseParser
	Lexicon   *lexicon.Lexicon
	Pipeline  *ingest.Pipeline
}

// NewLoader returns a loader for the tokenizer section of cfg.
func NewLoader(cfg TokenizerConfig) *Loader {
	return &Loader{
		StoplistPath: cfg.Stoplist,
		DictPath:     cfg.Dict,
		LexiconPath:  cfg.Lexicon,
	}
}

// Load reads all configuration files and returns initialized components
func (l *Loader) Load() (*Components, error) {
	comp := &Components{}

	// Load stoplist
	if l.StoplistPath != "" {
		stoplist, err := LoadStoplist(l.StoplistPath)
		if err != nil {
			return nil, fmt.Errorf("load stoplist: %w", err)
		}
		comp.Tokenizer = ingest.NewTokenizer(stoplist.Terms)
	} else {
		comp.Tokenizer = ingest.NewTokenizer([]string{})
	}

	// Load lexicon
	if l.LexiconPath != "" {
		lex, err := lexicon.LoadFromYAML(l.LexiconPath)
		if err != nil {
			return nil, fmt.Errorf("load lexicon: %w", err)
		}
		comp.Lexicon = lex
		comp.Tokenizer.SetLexicon(lex)
	}

	// Load dictionary
	var entries []ingest.DictEntry
	if l.DictPath != "" {
		dict, err := LoadDict(l.DictPath)
		if err != nil {
			return nil, fmt.Errorf("load dictionary: %w", err)
		}
		for _, e := range dict.Entries {
			entries = append(entries, ingest.DictEntry{Canonical: e.Canonical, Variants: e.Variants})
		}
	}
	// Multi-word lexicon variants become phrases rewritten to their canonical.
	if comp.Lexicon != nil {
		for _, phrase := range comp.Lexicon.Phrases() {
			entries = append(entries, ingest.DictEntry{
				Canonical: comp.Lexicon.Normalize(phrase),
				Variants:  []string{phrase},
			})
		}
	}
	comp.Parser = ingest.NewPhraseParser(entries)
	comp.Pipeline = ingest.NewPipeline(comp.Tokenizer, comp.Parser)

	return comp, nil
}
