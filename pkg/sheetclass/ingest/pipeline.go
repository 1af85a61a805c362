package ingest

// Pipeline is the tokenizer handed to the dataset builder and the worker:
// text -> word tokens -> phrase recognition -> + keywords -> dedupe.
type Pipeline struct {
	tokenizer *Tokenizer
	parser    *PhraseParser
}

// NewPipeline creates a pipeline. A nil parser disables phrase recognition.
func NewPipeline(tokenizer *Tokenizer, parser *PhraseParser) *Pipeline {
	if parser == nil {
		parser = NewPhraseParser(nil)
	}
	return &Pipeline{tokenizer: tokenizer, parser: parser}
}

// Tokens returns the ordered, deduplicated token list for text plus the
// caller-supplied keywords. Identical input always yields identical output.
func (p *Pipeline) Tokens(text string, keywords []string) []string {
	tokens := p.parser.Parse(p.tokenizer.Tokenize(text))

	for _, kw := range keywords {
		if norm := p.tokenizer.Keyword(kw); norm != "" {
			tokens = append(tokens, norm)
		}
	}

	return unique(tokens)
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, tok := range in {
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
