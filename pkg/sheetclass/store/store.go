package store

import (
	"context"
	"time"
)

// Store persists training history and the classification journal.
type Store interface {
	Close() error

	// Training runs
	RecordTraining(ctx context.Context, run TrainingRun) error
	ListTrainings(ctx context.Context, limit int) ([]TrainingRun, error)

	// Results
	RecordResult(ctx context.Context, r ResultRecord) error
	GetResult(ctx context.Context, requestID string) (ResultRecord, bool, error)
	RecentResults(ctx context.Context, limit int) ([]ResultRecord, error)
}

// Training run outcomes.
const (
	TrainingSucceeded = "succeeded"
	TrainingFailed    = "failed"
)

// TrainingRun describes one fetch/build/train cycle of a worker.
type TrainingRun struct {
	ID            string
	WorkerID      string
	Address       string
	StartedAt     time.Time
	FinishedAt    time.Time
	Rows          int
	Categories    []string
	Documents     int
	FetchDuration time.Duration
	BuildDuration time.Duration
	TrainDuration time.Duration
	Status        string
	Error         string
}

// ResultRecord is one journaled classification.
type ResultRecord struct {
	DocumentID   string
	RequestID    string
	WorkerID     string
	Text         string
	Keywords     []string
	Category     string
	Probability  float64
	ClassifiedAt time.Time
}
