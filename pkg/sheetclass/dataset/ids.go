package dataset

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// IDSource hands out monotonic ULIDs for classification documents.
// Safe for concurrent use.
type IDSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewIDSource creates an ID source.
func NewIDSource() *IDSource {
	return &IDSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Next returns a fresh, lexically increasing ID.
func (s *IDSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Now(), s.entropy).String()
}

// NewDocument tokenizes a classification request into a Document.
func (s *IDSource) NewDocument(tok Tokenizer, text string, keywords []string) Document {
	return Document{ID: s.Next(), Tokens: tok.Tokens(text, keywords)}
}
