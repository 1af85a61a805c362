package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cognicore/sheetclass/pkg/sheetclass/dataset"
	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
	"github.com/cognicore/sheetclass/pkg/sheetclass/metrics"
	"github.com/cognicore/sheetclass/pkg/sheetclass/protocol"
	"github.com/cognicore/sheetclass/pkg/sheetclass/training"
)

// State is the lifecycle state of a worker.
type State int32

const (
	Initializing State = iota
	Training
	Ready
	Draining
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Training:
		return "training"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Trainer produces the worker's model. training.Coordinator satisfies it.
type Trainer interface {
	Train(ctx context.Context, workerID, address string, emit func(protocol.Message)) (training.Model, error)
}

// Config sizes a worker.
type Config struct {
	ID          string
	Address     string
	MaxPending  int // requests queued before the model is ready
	MailboxSize int
	OutboxSize  int
}

const (
	defaultMaxPending  = 1024
	defaultMailboxSize = 64
	defaultOutboxSize  = 256
)

// Deps are the collaborators of a worker.
type Deps struct {
	Trainer   Trainer
	Tokenizer dataset.Tokenizer
	IDs       *dataset.IDSource // optional
	Metrics   *metrics.Metrics  // optional
	Logger    *zap.Logger       // optional
}

// Worker owns one trained model and serves classification requests sent to
// its mailbox. Its only mutable state lives on its own goroutine.
type Worker struct {
	id         string
	address    string
	maxPending int

	trainer   Trainer
	tokenizer dataset.Tokenizer
	ids       *dataset.IDSource
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mailbox chan protocol.Message
	outbox  chan protocol.Message
	ready   chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // training goroutine

	// gate is held for reading while Send enqueues. closing is set under
	// the write lock before the final mailbox drain, after which nothing
	// new is enqueued.
	gate    sync.RWMutex
	closing error

	state atomic.Int32
	err   error // set before done is closed
}

type trainOutcome struct {
	model training.Model
	err   error
}

// Spawn starts a worker. The mailbox exists before the worker goroutine
// runs, so requests sent right after Spawn returns are queued, not lost.
// Cancelling ctx kills the worker.
func Spawn(ctx context.Context, cfg Config, deps Deps) (*Worker, error) {
	if deps.Trainer == nil || deps.Tokenizer == nil {
		return nil, fmt.Errorf("spawn worker: %w: trainer and tokenizer are required", internalerr.ErrInvalidConfig)
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = defaultMailboxSize
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutboxSize
	}
	if deps.IDs == nil {
		deps.IDs = dataset.NewIDSource()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		id:         cfg.ID,
		address:    cfg.Address,
		maxPending: cfg.MaxPending,
		trainer:    deps.Trainer,
		tokenizer:  deps.Tokenizer,
		ids:        deps.IDs,
		metrics:    deps.Metrics,
		logger:     logger.With(zap.String("worker_id", cfg.ID)),
		mailbox:    make(chan protocol.Message, cfg.MailboxSize),
		outbox:     make(chan protocol.Message, cfg.OutboxSize),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        wctx,
		cancel:     cancel,
	}
	w.state.Store(int32(Initializing))

	go w.run()
	return w, nil
}

// ID returns the worker identifier.
func (w *Worker) ID() string { return w.id }

// Address returns the data-source address the worker trains from.
func (w *Worker) Address() string { return w.address }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Outbox delivers STATUS, LOG, ERROR, RESULT and ACK messages. It is
// closed after the worker exits.
func (w *Worker) Outbox() <-chan protocol.Message { return w.outbox }

// Ready is closed once the model is trained.
func (w *Worker) Ready() <-chan struct{} { return w.ready }

// Done is closed once the worker has exited and its outbox is closed.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err reports why the worker exited: nil after a graceful shutdown, an
// error wrapping ErrTrainingFailed, ErrWorkerCrashed or ErrWorkerStopped
// otherwise. Only meaningful after Done is closed.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Send delivers msg to the mailbox without blocking. Once the worker has
// drained its mailbox for the last time it returns ErrShuttingDown after
// a graceful shutdown and ErrWorkerStopped otherwise.
func (w *Worker) Send(msg protocol.Message) error {
	w.gate.RLock()
	defer w.gate.RUnlock()
	if w.closing != nil {
		return w.closing
	}
	select {
	case w.mailbox <- msg:
		return nil
	default:
		return internalerr.ErrOverloaded
	}
}

// closeGate stops Send from enqueueing. The first reason wins.
func (w *Worker) closeGate(reason error) {
	w.gate.Lock()
	if w.closing == nil {
		w.closing = reason
	}
	w.gate.Unlock()
}

// Submit sends a PAYLOAD.
func (w *Worker) Submit(req protocol.Request) error {
	return w.Send(protocol.Payload{Request: req})
}

// Shutdown asks the worker to finish its queued requests and exit. It
// blocks only until the SHUTDOWN message is in the mailbox.
func (w *Worker) Shutdown(ctx context.Context) error {
	select {
	case w.mailbox <- protocol.Shutdown{WorkerID: w.id}:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill stops the worker at once. Queued requests get no result.
func (w *Worker) Kill() {
	w.cancel()
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// emit blocks until the listener takes msg or the worker is killed.
func (w *Worker) emit(msg protocol.Message) {
	select {
	case w.outbox <- msg:
	case <-w.ctx.Done():
	}
}

func (w *Worker) run() {
	var pending []protocol.Request
	defer func() {
		if r := recover(); r != nil {
			w.err = fmt.Errorf("%w: %v", internalerr.ErrWorkerCrashed, r)
			w.setState(Failed)
			w.logger.Error("worker panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		if len(pending) > 0 {
			w.logger.Warn("dropping queued requests", zap.Int("count", len(pending)))
			w.metrics.AddPending(-len(pending))
		}
		w.exit()
	}()

	trained := make(chan trainOutcome, 1)
	w.setState(Training)
	w.wg.Add(1)
	go w.train(trained)

	var (
		model    training.Model
		draining bool
	)
	for {
		select {
		case <-w.ctx.Done():
			w.err = fmt.Errorf("%w: killed", internalerr.ErrWorkerStopped)
			w.setState(Stopped)
			return

		case out := <-trained:
			if w.ctx.Err() != nil {
				w.err = fmt.Errorf("%w: killed", internalerr.ErrWorkerStopped)
				w.setState(Stopped)
				return
			}
			if out.err != nil {
				w.err = out.err
				w.setState(Failed)
				return
			}
			model = out.model
			if !draining {
				w.setState(Ready)
			}
			close(w.ready)

			queued := pending
			pending = nil
			w.metrics.AddPending(-len(queued))
			for _, req := range queued {
				w.classify(model, req)
			}
			if draining {
				w.stop()
				return
			}

		case msg := <-w.mailbox:
			switch m := msg.(type) {
			case protocol.Payload:
				switch {
				case draining:
					w.emit(protocol.Reject(m.Request, internalerr.ErrShuttingDown))
				case model != nil:
					w.classify(model, m.Request)
				case len(pending) >= w.maxPending:
					w.emit(protocol.Reject(m.Request, internalerr.ErrOverloaded))
				default:
					pending = append(pending, m.Request)
					w.metrics.AddPending(1)
				}
			case protocol.Shutdown:
				if draining {
					continue
				}
				draining = true
				w.setState(Draining)
				if model != nil {
					w.stop()
					return
				}
			default:
				w.emit(protocol.Errorf(internalerr.ErrUnknownMessage, "worker %s: unexpected %s message", w.id, msg.Kind()))
			}
		}
	}
}

func (w *Worker) train(out chan<- trainOutcome) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("training panicked", zap.Any("panic", r), zap.Stack("stack"))
			out <- trainOutcome{err: fmt.Errorf("%w: training: %v", internalerr.ErrWorkerCrashed, r)}
		}
	}()

	model, err := w.trainer.Train(w.ctx, w.id, w.address, w.emit)
	if err == nil && model == nil {
		err = fmt.Errorf("%w: trainer returned no model", internalerr.ErrTrainingFailed)
	}
	out <- trainOutcome{model: model, err: err}
}

func (w *Worker) classify(model training.Model, req protocol.Request) {
	doc := w.ids.NewDocument(w.tokenizer, req.Text, req.Keywords)
	res := model.Classify(doc)
	w.emit(protocol.Result{
		Request:         req,
		Category:        res.Category,
		DocumentID:      doc.ID,
		WorkerID:        w.id,
		Probability:     res.Probability,
		SecondCategory:  res.SecondCategory,
		TimesMoreLikely: res.TimesMoreLikely,
	})
}

// stop completes a graceful shutdown. Requests that reached the mailbox
// after SHUTDOWN are rejected.
func (w *Worker) stop() {
	w.closeGate(internalerr.ErrShuttingDown)
drain:
	for {
		select {
		case msg := <-w.mailbox:
			if p, ok := msg.(protocol.Payload); ok {
				w.emit(protocol.Reject(p.Request, internalerr.ErrShuttingDown))
			}
		default:
			break drain
		}
	}
	w.emit(protocol.Log{Text: fmt.Sprintf("Worker %s is shutting down...", w.id)})
	w.emit(protocol.Ack{WorkerID: w.id})
	w.setState(Stopped)
}

func (w *Worker) exit() {
	w.closeGate(internalerr.ErrWorkerStopped)
	w.cancel()
	w.wg.Wait()
	close(w.outbox)
	close(w.done)

	reason := metrics.ExitStopped
	switch {
	case w.err == nil:
	case errors.Is(w.err, internalerr.ErrWorkerCrashed):
		reason = metrics.ExitCrashed
	case errors.Is(w.err, internalerr.ErrTrainingFailed):
		reason = metrics.ExitTrainingFailed
	case errors.Is(w.err, internalerr.ErrWorkerStopped):
		reason = metrics.ExitKilled
	}
	w.metrics.Exited(reason)
	w.logger.Debug("worker exited", zap.String("reason", reason), zap.Error(w.err))
}
