package ingest

import (
	"reflect"
	"testing"
)

func TestPipelineTokens(t *testing.T) {
	pipeline := NewPipeline(
		NewTokenizer([]string{"the", "my"}),
		NewPhraseParser([]DictEntry{{Canonical: "credit card"}}),
	)

	got := pipeline.Tokens("The credit card was charged twice, charged!", []string{"Billing", "credit card"})
	want := []string{"credit card", "was", "charged", "twice", "billing"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}
}

func TestPipelineDeterministic(t *testing.T) {
	pipeline := NewPipeline(NewTokenizer(nil), nil)

	first := pipeline.Tokens("amazing awesome amazing", []string{"great"})
	second := pipeline.Tokens("amazing awesome amazing", []string{"great"})

	if !reflect.DeepEqual(first, second) {
		t.Errorf("pipeline should be deterministic: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(first, []string{"amazing", "awesome", "great"}) {
		t.Errorf("unexpected tokens %v", first)
	}
}

func TestPipelineEmptyText(t *testing.T) {
	pipeline := NewPipeline(NewTokenizer(nil), nil)

	if tokens := pipeline.Tokens("", nil); len(tokens) != 0 {
		t.Errorf("Empty text should produce 0 tokens, got %v", tokens)
	}
}

func TestPipelineOnlySpecialCharacters(t *testing.T) {
	pipeline := NewPipeline(NewTokenizer(nil), nil)

	if tokens := pipeline.Tokens("!@#$%^&*()_+=[]{}|;:\",./<>?", nil); len(tokens) != 0 {
		t.Errorf("Special characters should produce 0 tokens, got %v", tokens)
	}
}
