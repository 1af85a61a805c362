package sheetclass

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cognicore/sheetclass/pkg/sheetclass/bayes"
	"github.com/cognicore/sheetclass/pkg/sheetclass/config"
	"github.com/cognicore/sheetclass/pkg/sheetclass/dataset"
	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
	"github.com/cognicore/sheetclass/pkg/sheetclass/metrics"
	"github.com/cognicore/sheetclass/pkg/sheetclass/protocol"
	"github.com/cognicore/sheetclass/pkg/sheetclass/source"
	"github.com/cognicore/sheetclass/pkg/sheetclass/store"
	"github.com/cognicore/sheetclass/pkg/sheetclass/store/memstore"
	"github.com/cognicore/sheetclass/pkg/sheetclass/store/sqlite"
	"github.com/cognicore/sheetclass/pkg/sheetclass/supervisor"
	"github.com/cognicore/sheetclass/pkg/sheetclass/training"
)

// Options configures a Service. Only Config is required; every other
// dependency is built from it when left nil.
type Options struct {
	Config    *config.Config
	Address   string            // overrides the configured source address
	Store     store.Store       // closed by the caller when supplied
	Fetcher   source.Fetcher
	Tokenizer dataset.Tokenizer
	Sink      supervisor.Sink // receives everything after the service handled it
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Service is the classification service facade.
type Service struct {
	cfg       config.Config
	address   string
	store     store.Store
	ownsStore bool
	sup       *supervisor.Supervisor
	metrics   *metrics.Metrics
	logger    *zap.Logger
	user      supervisor.Sink

	mu      sync.Mutex
	waiters map[string]chan outcome
}

type outcome struct {
	res protocol.Result
	err error
}

// New wires a Service. Call Start to train the first worker.
func New(ctx context.Context, opts Options) (*Service, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	address := opts.Address
	if address == "" {
		address = cfg.SourceAddress()
	}
	if address == "" {
		return nil, fmt.Errorf("%w: no data source address", internalerr.ErrInvalidConfig)
	}

	tok := opts.Tokenizer
	if tok == nil {
		comp, err := config.NewLoader(cfg.Tokenizer).Load()
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		tok = comp.Pipeline
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = source.New(source.Config{
			Format:     source.Format(cfg.Source.Format),
			Timeout:    cfg.Source.Timeout,
			MaxRetries: cfg.Source.MaxRetries,
			RetryDelay: cfg.Source.RetryDelay,
		})
	}

	st := opts.Store
	ownsStore := false
	if st == nil {
		var err error
		st, err = openStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
		}
		ownsStore = true
	}

	user := opts.Sink
	if user == nil {
		user = supervisor.NopSink{}
	}

	s := &Service{
		cfg:       cfg,
		address:   address,
		store:     st,
		ownsStore: ownsStore,
		metrics:   opts.Metrics,
		logger:    logger,
		user:      user,
		waiters:   make(map[string]chan outcome),
	}

	coord := training.New(training.Config{
		Fetcher:   fetcher,
		Tokenizer: tok,
		Options: bayes.Options{
			ApplyInverse:         cfg.Classifier.ApplyInverse,
			ProbabilityThreshold: cfg.Classifier.ProbabilityThreshold,
			DefaultCategory:      cfg.Classifier.DefaultCategory,
		},
		Recorder: st,
		Metrics:  opts.Metrics,
		Logger:   logger,
	})

	sup, err := supervisor.New(supervisor.Config{
		MaxPending:     cfg.Worker.MaxPending,
		MailboxSize:    cfg.Worker.MailboxSize,
		MaxRestarts:    cfg.Supervisor.MaxRestarts,
		RestartBackoff: cfg.Supervisor.RestartBackoff,
	}, supervisor.Deps{
		Trainer:   coord,
		Tokenizer: tok,
		Sink:      serviceSink{s},
		Metrics:   opts.Metrics,
		Logger:    logger,
	})
	if err != nil {
		if ownsStore {
			st.Close()
		}
		return nil, err
	}
	s.sup = sup
	return s, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Path == "" {
		return memstore.New(), nil
	}
	return sqlite.OpenSQLite(ctx, cfg.Path)
}

// Start spawns the first worker against the configured address.
func (s *Service) Start(ctx context.Context) error {
	return s.sup.Start(ctx, s.address)
}

// Submit queues req and returns its request ID, generating one when the
// request has none. The result is delivered to the sink and the journal.
func (s *Service) Submit(req protocol.Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := s.sup.Submit(req); err != nil {
		return "", err
	}
	return req.ID, nil
}

// Classify submits req and waits for its result or rejection.
func (s *Service) Classify(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ch := make(chan outcome, 1)
	s.mu.Lock()
	if _, dup := s.waiters[req.ID]; dup {
		s.mu.Unlock()
		return protocol.Result{}, fmt.Errorf("%w: request %q already in flight", internalerr.ErrInvalidInput, req.ID)
	}
	s.waiters[req.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.waiters, req.ID)
		s.mu.Unlock()
	}()

	if err := s.sup.Submit(req); err != nil {
		return protocol.Result{}, err
	}

	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		return protocol.Result{}, ctx.Err()
	}
}

// Lookup returns the journaled result of a request.
func (s *Service) Lookup(ctx context.Context, requestID string) (store.ResultRecord, error) {
	rec, ok, err := s.store.GetResult(ctx, requestID)
	if err != nil {
		return store.ResultRecord{}, err
	}
	if !ok {
		return store.ResultRecord{}, fmt.Errorf("result %q: %w", requestID, internalerr.ErrNotFound)
	}
	return rec, nil
}

// RecentResults lists journaled results, newest first.
func (s *Service) RecentResults(ctx context.Context, limit int) ([]store.ResultRecord, error) {
	return s.store.RecentResults(ctx, limit)
}

// Reload hot-swaps to a worker trained from address (empty keeps the
// current one).
func (s *Service) Reload(ctx context.Context, address string) error {
	return s.sup.Reload(ctx, address)
}

// Snapshot reports supervisor and worker state.
func (s *Service) Snapshot() supervisor.Snapshot {
	return s.sup.Snapshot()
}

// Trainings lists recorded training runs, newest first.
func (s *Service) Trainings(ctx context.Context, limit int) ([]store.TrainingRun, error) {
	return s.store.ListTrainings(ctx, limit)
}

// Metrics returns the metrics the service records into, possibly nil.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// RequestTimeout is the configured wait for synchronous classification.
func (s *Service) RequestTimeout() time.Duration {
	return s.cfg.Server.RequestTimeout
}

// Close stops all workers and closes the store if the service opened it.
func (s *Service) Close(ctx context.Context) error {
	err := s.sup.Close(ctx)
	if s.ownsStore {
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// serviceSink logs worker output, journals results and releases waiting
// Classify calls before passing everything on to the user sink.
type serviceSink struct {
	s *Service
}

func (k serviceSink) Status(workerID string, st protocol.Status) {
	k.s.logger.Info("worker status",
		zap.String("worker_id", workerID),
		zap.String("fill", st.Fill),
		zap.String("text", st.Text))
	k.s.user.Status(workerID, st)
}

func (k serviceSink) Log(workerID, text string) {
	k.s.logger.Info(text, zap.String("worker_id", workerID))
	k.s.user.Log(workerID, text)
}

// Error hands rejections to the waiting Classify call.
func (k serviceSink) Error(workerID string, err error) {
	s := k.s
	s.logger.Warn("worker error", zap.String("worker_id", workerID), zap.Error(err))

	var perr protocol.Error
	if errors.As(err, &perr) && perr.Request != nil {
		s.deliver(perr.Request.ID, outcome{err: perr})
	}
	s.user.Error(workerID, err)
}

// Result journals res before the waiting Classify call is released.
func (k serviceSink) Result(workerID string, res protocol.Result) {
	s := k.s
	rec := store.ResultRecord{
		DocumentID:   res.DocumentID,
		RequestID:    res.Request.ID,
		WorkerID:     workerID,
		Text:         res.Request.Text,
		Keywords:     res.Request.Keywords,
		Category:     res.Category,
		Probability:  res.Probability,
		ClassifiedAt: time.Now(),
	}
	if err := s.store.RecordResult(context.Background(), rec); err != nil {
		s.logger.Warn("journal result failed", zap.String("document_id", res.DocumentID), zap.Error(err))
	}

	s.deliver(res.Request.ID, outcome{res: res})
	s.user.Result(workerID, res)
}

func (s *Service) deliver(requestID string, out outcome) {
	if requestID == "" {
		return
	}
	s.mu.Lock()
	ch, ok := s.waiters[requestID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- out:
	default:
	}
}
