package memstore

import (
	"context"
	"sync"

	"github.com/cognicore/sheetclass/pkg/sheetclass/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu        sync.RWMutex
	trainings []store.TrainingRun
	results   []store.ResultRecord
	byRequest map[string]int // request ID -> index of latest result
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{byRequest: make(map[string]int)}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// RecordTraining appends a training run.
func (s *Store) RecordTraining(ctx context.Context, run store.TrainingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Categories = append([]string(nil), run.Categories...)
	s.trainings = append(s.trainings, run)
	return nil
}

// ListTrainings returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) ListTrainings(ctx context.Context, limit int) ([]store.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.trainings)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]store.TrainingRun, 0, n)
	for i := len(s.trainings) - 1; i >= 0 && len(out) < n; i-- {
		run := s.trainings[i]
		run.Categories = append([]string(nil), run.Categories...)
		out = append(out, run)
	}
	return out, nil
}

// RecordResult appends a result to the journal.
func (s *Store) RecordResult(ctx context.Context, r store.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Keywords = append([]string(nil), r.Keywords...)
	s.results = append(s.results, r)
	if r.RequestID != "" {
		s.byRequest[r.RequestID] = len(s.results) - 1
	}
	return nil
}

// GetResult returns the latest result recorded for requestID.
func (s *Store) GetResult(ctx context.Context, requestID string) (store.ResultRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byRequest[requestID]
	if !ok {
		return store.ResultRecord{}, false, nil
	}
	return s.results[idx], true, nil
}

// RecentResults returns up to limit results, newest first.
func (s *Store) RecentResults(ctx context.Context, limit int) ([]store.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.results)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]store.ResultRecord, 0, n)
	for i := len(s.results) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.results[i])
	}
	return out, nil
}
