package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const cellsFixture = `{"feed":{"entry":[
 {"gs$cell":{"row":"1","col":"1"},"content":{"$t":"amazing awesome"}},
 {"gs$cell":{"row":"1","col":"2"},"content":{"$t":"positive"}},
 {"gs$cell":{"row":"1","col":"3"},"content":{"$t":"great, good;"}},
 {"gs$cell":{"row":"2","col":"2"},"content":{"$t":"negative"}},
 {"gs$cell":{"row":"3","col":"1"},"content":{"$t":"<b>terrible</b> &amp; awful"}}
]}}`

func TestParseCells(t *testing.T) {
	rows, err := ParseCells([]byte(cellsFixture))
	if err != nil {
		t.Fatalf("ParseCells: %v", err)
	}

	want := []Row{
		{Key: "row-1", Text: "amazing awesome", Category: "positive", Keywords: []string{"great", "good"}},
		{Key: "row-3", Text: "terrible & awful", Category: ""},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %+v, want %+v", rows, want)
	}
}

func TestParseCellsMissingFeed(t *testing.T) {
	if _, err := ParseCells([]byte(`{"version":"1.0"}`)); err == nil {
		t.Fatal("expected error for document without feed")
	}
	if _, err := ParseCells([]byte(`<html>not published</html>`)); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}

func TestParseCSV(t *testing.T) {
	data := "text,category,keywords\n" +
		"amazing awesome,positive,\"great,good\"\n" +
		",negative,\n" +
		"terrible awful,negative\n"

	rows, err := ParseCSV([]byte(data))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	want := []Row{
		{Key: "row-2", Text: "amazing awesome", Category: "positive", Keywords: []string{"great", "good"}},
		{Key: "row-4", Text: "terrible awful", Category: "negative"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %+v, want %+v", rows, want)
	}
}

func TestParseCSVHeaderOrder(t *testing.T) {
	data := "label,text\npositive,nice one\n"
	rows, err := ParseCSV([]byte(data))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	// No "text" in the first column: positional layout, so the header is a row.
	if len(rows) != 2 || rows[0].Text != "label" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	rows, err = ParseCSV([]byte("text,label\nnice one,positive\n"))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(rows) != 1 || rows[0].Category != "positive" || rows[0].Text != "nice one" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestParseJSONL(t *testing.T) {
	data := `{"key":"a","text":"amazing","category":"positive","keywords":[" great ",""]}
not json
{"text":"terrible","category":"negative"}
{"text":"","category":"ignored"}
`
	rows, err := ParseJSONL([]byte(data))
	if err != nil {
		t.Fatalf("ParseJSONL: %v", err)
	}
	want := []Row{
		{Key: "a", Text: "amazing", Category: "positive", Keywords: []string{"great"}},
		{Key: "row-3", Text: "terrible", Category: "negative"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %+v, want %+v", rows, want)
	}

	if _, err := ParseJSONL([]byte("garbage\n{broken\n")); err == nil {
		t.Fatal("expected error when no line is valid")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		address     string
		contentType string
		want        Format
	}{
		{"https://docs.google.com/spreadsheets/d/x/export?format=csv", "", FormatCSV},
		{"https://example.com/pub?output=csv", "", FormatCSV},
		{"/data/train.CSV", "", FormatCSV},
		{"/data/train.jsonl", "", FormatJSONL},
		{"https://example.com/feed", "text/csv; charset=utf-8", FormatCSV},
		{"https://example.com/feed", "application/x-ndjson", FormatJSONL},
		{SheetURL("abc", 1), "application/json", FormatCells},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.address, tt.contentType); got != tt.want {
			t.Errorf("DetectFormat(%q, %q) = %q, want %q", tt.address, tt.contentType, got, tt.want)
		}
	}
}

func TestSheetURL(t *testing.T) {
	got := SheetURL("1AbC", 2)
	want := "https://spreadsheets.google.com/feeds/cells/1AbC/2/public/full?alt=json"
	if got != want {
		t.Fatalf("SheetURL = %q, want %q", got, want)
	}
	if !strings.Contains(SheetURL("x", 0), "/x/1/") {
		t.Fatal("page should default to 1")
	}
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cellsFixture))
	}))
	defer srv.Close()

	rows, err := New(Config{}).Fetch(context.Background(), srv.URL+"/feed")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 2 || rows[0].Category != "positive" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestFetchClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := New(Config{MaxRetries: 3, RetryDelay: time.Millisecond})
	_, err := src.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should mention status: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(cellsFixture))
	}))
	defer srv.Close()

	src := New(Config{MaxRetries: 2, RetryDelay: time.Millisecond})
	rows, err := src.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
}

func TestFetchNoRetryByDefault(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New(Config{}).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
}

func TestFetchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.csv")
	if err := os.WriteFile(path, []byte("amazing awesome,positive\nterrible awful,negative\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := New(Config{})
	for _, addr := range []string{path, "file://" + path} {
		rows, err := src.Fetch(context.Background(), addr)
		if err != nil {
			t.Fatalf("Fetch(%q): %v", addr, err)
		}
		if len(rows) != 2 || rows[1].Category != "negative" || rows[0].Key != "row-1" {
			t.Fatalf("Fetch(%q) rows = %+v", addr, rows)
		}
	}

	if _, err := src.Fetch(context.Background(), filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := src.Fetch(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty address")
	}
}
