package training

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/sheetclass/pkg/sheetclass/bayes"
	"github.com/cognicore/sheetclass/pkg/sheetclass/dataset"
	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
	"github.com/cognicore/sheetclass/pkg/sheetclass/metrics"
	"github.com/cognicore/sheetclass/pkg/sheetclass/protocol"
	"github.com/cognicore/sheetclass/pkg/sheetclass/source"
	"github.com/cognicore/sheetclass/pkg/sheetclass/store"
)

// Guidance emitted after a failed training cycle.
const (
	FetchGuidance   = "Did you publish your google sheet?"
	DatasetGuidance = "Check that the sheet has a text column with at least one row."
)

// Model is a trained classifier as held by a worker.
type Model interface {
	Classify(doc dataset.Document) bayes.Result
}

// Recorder persists training runs. store.Store satisfies it.
type Recorder interface {
	RecordTraining(ctx context.Context, run store.TrainingRun) error
}

// Config wires a Coordinator.
type Config struct {
	Fetcher   source.Fetcher
	Tokenizer dataset.Tokenizer
	Options   bayes.Options
	Recorder  Recorder         // optional
	Metrics   *metrics.Metrics // optional
	Logger    *zap.Logger
}

// Coordinator turns a data-source address into a trained model, reporting
// progress as protocol messages.
type Coordinator struct {
	fetcher   source.Fetcher
	tokenizer dataset.Tokenizer
	options   bayes.Options
	recorder  Recorder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	ids       *dataset.IDSource
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher:   cfg.Fetcher,
		tokenizer: cfg.Tokenizer,
		options:   cfg.Options,
		recorder:  cfg.Recorder,
		metrics:   cfg.Metrics,
		logger:    logger,
		ids:       dataset.NewIDSource(),
	}
}

// Train runs fetch, dataset build and training. On failure it emits two
// ERROR messages and a failed STATUS, then returns an error wrapping
// internalerr.ErrTrainingFailed.
func (c *Coordinator) Train(ctx context.Context, workerID, address string, emit func(protocol.Message)) (Model, error) {
	run := store.TrainingRun{
		ID:        c.ids.Next(),
		WorkerID:  workerID,
		Address:   address,
		StartedAt: time.Now(),
	}

	emit(protocol.StatusTraining())

	start := time.Now()
	rows, err := c.fetcher.Fetch(ctx, address)
	if err != nil {
		return nil, c.fail(ctx, &run, emit, err, FetchGuidance)
	}
	run.FetchDuration = time.Since(start)
	run.Rows = len(rows)
	c.metrics.ObservePhase("fetch", run.FetchDuration)
	emit(protocol.Log{Text: fmt.Sprintf("Data fetched in %s (%d rows)", round(run.FetchDuration), len(rows))})

	start = time.Now()
	ds := dataset.Build(rows, c.tokenizer)
	run.BuildDuration = time.Since(start)
	run.Categories = ds.Categories()
	run.Documents = ds.Len()
	c.metrics.ObservePhase("build", run.BuildDuration)
	emit(protocol.Log{Text: fmt.Sprintf("Dataset created in %s (%d documents, %d categories)",
		round(run.BuildDuration), ds.Len(), len(run.Categories))})

	start = time.Now()
	model, err := bayes.Train(ds, c.options)
	if err != nil {
		return nil, c.fail(ctx, &run, emit, err, DatasetGuidance)
	}
	run.TrainDuration = time.Since(start)
	c.metrics.ObservePhase("train", run.TrainDuration)
	emit(protocol.Log{Text: fmt.Sprintf("Model trained in %s", round(run.TrainDuration))})

	emit(protocol.StatusReady())

	run.Status = store.TrainingSucceeded
	c.record(ctx, run)
	return model, nil
}

func (c *Coordinator) fail(ctx context.Context, run *store.TrainingRun, emit func(protocol.Message), cause error, guidance string) error {
	emit(protocol.Errorf(cause, "%s.", cause.Error()))
	emit(protocol.Error{Text: guidance, Err: internalerr.ErrTrainingFailed})
	emit(protocol.StatusFailed(cause))

	run.Status = store.TrainingFailed
	run.Error = cause.Error()
	c.record(ctx, *run)

	return fmt.Errorf("%w: %w", internalerr.ErrTrainingFailed, cause)
}

func (c *Coordinator) record(ctx context.Context, run store.TrainingRun) {
	if c.recorder == nil {
		return
	}
	run.FinishedAt = time.Now()
	// The run outlives a cancelled worker context.
	if err := c.recorder.RecordTraining(context.WithoutCancel(ctx), run); err != nil {
		c.logger.Warn("record training run failed",
			zap.String("worker_id", run.WorkerID),
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
}

func round(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return d.Round(time.Microsecond)
	}
	return d.Round(time.Millisecond)
}
