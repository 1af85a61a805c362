package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoaderBuildsPipeline(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(TokenizerConfig{
		Stoplist: writeFile(t, dir, "stoplist.yaml", "terms: [the, my, was]\n"),
		Dict:     writeFile(t, dir, "dict.txt", "credit card|cc\n"),
		Lexicon: writeFile(t, dir, "lexicon.yaml", `synonyms:
  - canonical: refund
    variants: [refunded, money back]
`),
	})

	comp, err := loader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if comp.Lexicon == nil || comp.Parser == nil || comp.Tokenizer == nil || comp.Pipeline == nil {
		t.Fatalf("missing components: %+v", comp)
	}

	got := comp.Pipeline.Tokens("My cc was refunded, I want my money back", []string{"Billing"})
	want := []string{"credit card", "refund", "want", "billing"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokens = %v, want %v", got, want)
	}
}

func TestLoaderDefaults(t *testing.T) {
	comp, err := (&Loader{}).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := comp.Pipeline.Tokens("Amazing awesome", nil)
	if !reflect.DeepEqual(got, []string{"amazing", "awesome"}) {
		t.Fatalf("Tokens = %v", got)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	if _, err := (&Loader{StoplistPath: "/nonexistent/stoplist.yaml"}).Load(); err == nil {
		t.Fatal("expected error for missing stoplist")
	}
	if _, err := (&Loader{DictPath: "/nonexistent/dict.txt"}).Load(); err == nil {
		t.Fatal("expected error for missing dictionary")
	}
}
