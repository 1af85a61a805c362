package dataset

import (
	"github.com/cognicore/sheetclass/pkg/sheetclass/source"
)

// Document is a tokenized piece of text. Immutable once built.
type Document struct {
	ID     string
	Tokens []string
}

// Tokenizer turns text plus caller keywords into an ordered, deduplicated
// token list.
type Tokenizer interface {
	Tokens(text string, keywords []string) []string
}

// LabeledDataset groups training documents by category.
type LabeledDataset struct {
	order []string
	docs  map[string][]Document
}

// New returns an empty dataset.
func New() *LabeledDataset {
	return &LabeledDataset{docs: make(map[string][]Document)}
}

// Add files doc under category, preserving insertion order.
func (d *LabeledDataset) Add(category string, doc Document) {
	if _, ok := d.docs[category]; !ok {
		d.order = append(d.order, category)
	}
	d.docs[category] = append(d.docs[category], doc)
}

// Categories returns category names in first-seen order.
func (d *LabeledDataset) Categories() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Documents returns the documents filed under category.
func (d *LabeledDataset) Documents(category string) []Document {
	return d.docs[category]
}

// Len is the total number of documents.
func (d *LabeledDataset) Len() int {
	n := 0
	for _, docs := range d.docs {
		n += len(docs)
	}
	return n
}

// Build partitions rows by category and tokenizes each row into a
// Document keyed by the row key. Rows without a category land under "".
func Build(rows []source.Row, tok Tokenizer) *LabeledDataset {
	ds := New()
	for _, row := range rows {
		ds.Add(row.Category, Document{
			ID:     row.Key,
			Tokens: tok.Tokens(row.Text, row.Keywords),
		})
	}
	return ds
}
