package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/cognicore/sheetclass/pkg/sheetclass/dataset"
	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
	"github.com/cognicore/sheetclass/pkg/sheetclass/metrics"
	"github.com/cognicore/sheetclass/pkg/sheetclass/protocol"
	"github.com/cognicore/sheetclass/pkg/sheetclass/worker"
)

// Sink receives everything workers report. Calls come from listener
// goroutines, one per worker, so implementations must be safe for
// concurrent use.
type Sink interface {
	Status(workerID string, st protocol.Status)
	Log(workerID string, text string)
	// Error receives protocol.Error values from workers and lifecycle
	// errors raised by the supervisor.
	Error(workerID string, err error)
	Result(workerID string, res protocol.Result)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Status(string, protocol.Status) {}
func (NopSink) Log(string, string)             {}
func (NopSink) Error(string, error)            {}
func (NopSink) Result(string, protocol.Result) {}

// State is the supervisor lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Restarting
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config controls worker sizing and the restart policy.
type Config struct {
	MaxPending     int
	MailboxSize    int
	MaxRestarts    uint64        // crash respawns before giving up
	RestartBackoff time.Duration // base of the exponential backoff
}

// Deps are the supervisor collaborators.
type Deps struct {
	Trainer   worker.Trainer
	Tokenizer dataset.Tokenizer
	Sink      Sink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type handle struct {
	gen       uint64
	w         *worker.Worker
	restarted bool        // spawned by the restart loop
	handled   atomic.Bool // exit of the current worker already acted on
}

// Supervisor runs classification workers and swaps them on reload.
type Supervisor struct {
	cfg     Config
	trainer worker.Trainer
	tok     dataset.Tokenizer
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	ids     *dataset.IDSource

	mu       sync.Mutex // guards workers, nextGen, closed, ctx
	workers  map[uint64]*handle
	nextGen  uint64
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	reloadMu sync.Mutex
	current  atomic.Pointer[handle]
	state    atomic.Int32
	wg       sync.WaitGroup // listeners
}

// New creates a supervisor. Call Start to spawn the first worker.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	if deps.Trainer == nil || deps.Tokenizer == nil {
		return nil, fmt.Errorf("new supervisor: %w: trainer and tokenizer are required", internalerr.ErrInvalidConfig)
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = time.Second
	}
	sink := deps.Sink
	if sink == nil {
		sink = NopSink{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:     cfg,
		trainer: deps.Trainer,
		tok:     deps.Tokenizer,
		sink:    sink,
		metrics: deps.Metrics,
		logger:  logger,
		ids:     dataset.NewIDSource(),
		workers: make(map[uint64]*handle),
	}, nil
}

// Start spawns the first worker. Requests submitted before it finishes
// training are queued by the worker.
func (s *Supervisor) Start(ctx context.Context, address string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return internalerr.ErrClosed
	case s.ctx != nil:
		s.mu.Unlock()
		return internalerr.ErrAlreadyStarted
	}
	// Workers live until Close, not until the caller's context ends.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	h, err := s.spawn(address, false)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	s.current.Store(h)
	s.metrics.SetGeneration(h.gen)
	s.setState(Running)
	s.logger.Info("supervisor started", zap.String("worker_id", h.w.ID()), zap.String("address", address))
	return nil
}

// Submit forwards req to the current worker without blocking. The result
// reaches the Sink asynchronously.
func (s *Supervisor) Submit(req protocol.Request) error {
	if s.State() == Closed {
		s.metrics.Rejected(metrics.ReasonShuttingDown)
		return internalerr.ErrClosed
	}
	h := s.current.Load()
	if h == nil {
		s.metrics.Rejected(metrics.ReasonNotStarted)
		return internalerr.ErrNotStarted
	}
	for {
		err := h.w.Submit(req)
		if err == nil {
			s.metrics.Submitted()
			return nil
		}
		// A reload swapped workers after h was loaded: the old worker no
		// longer enqueues, so the request goes to its replacement.
		if !errors.Is(err, internalerr.ErrOverloaded) {
			if next := s.current.Load(); next != h {
				h = next
				continue
			}
		}
		if errors.Is(err, internalerr.ErrOverloaded) {
			s.metrics.Rejected(metrics.ReasonOverloaded)
		} else {
			s.metrics.Rejected(metrics.ReasonShuttingDown)
		}
		return fmt.Errorf("submit to %s: %w", h.w.ID(), err)
	}
}

// Reload trains a new worker against address (empty keeps the current
// address) and, once it is ready, makes it current and gracefully shuts
// down the old one. Requests already sent to the old worker are still
// answered by it. If the new worker fails or ctx ends first, the old
// worker keeps serving.
func (s *Supervisor) Reload(ctx context.Context, address string) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	old := s.current.Load()
	if old == nil {
		return internalerr.ErrNotStarted
	}
	if address == "" {
		address = old.w.Address()
	}

	h, err := s.spawn(address, false)
	if err != nil {
		s.metrics.Reloaded("failed")
		return fmt.Errorf("reload: %w", err)
	}

	select {
	case <-h.w.Ready():
	case <-h.w.Done():
	case <-ctx.Done():
		h.w.Kill()
		s.metrics.Reloaded("cancelled")
		return fmt.Errorf("reload: %w", ctx.Err())
	}
	if !isReady(h) {
		s.metrics.Reloaded("failed")
		return fmt.Errorf("reload %s: %w", h.w.ID(), h.w.Err())
	}

	old = s.current.Swap(h)
	s.metrics.SetGeneration(h.gen)
	s.setState(Running)
	s.metrics.Reloaded("succeeded")
	s.logger.Info("worker swapped",
		zap.String("worker_id", h.w.ID()),
		zap.String("address", address),
		zap.Uint64("generation", h.gen))

	if old != nil {
		if err := old.w.Shutdown(s.ctx); err != nil {
			old.w.Kill()
		}
	}

	// The new worker may have died between Ready and the swap, while it
	// was not yet current.
	select {
	case <-h.w.Done():
		s.handleExit(h)
	default:
	}
	return nil
}

// Close gracefully shuts down every worker, killing those still running
// when ctx ends.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]*handle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.setState(Closed)
	for _, h := range handles {
		if err := h.w.Shutdown(ctx); err != nil {
			h.w.Kill()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		for _, h := range handles {
			h.w.Kill()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// State returns the supervisor state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) {
	for {
		cur := s.state.Load()
		if State(cur) == Closed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// WorkerInfo describes one live worker.
type WorkerInfo struct {
	Generation uint64 `json:"generation"`
	ID         string `json:"id"`
	Address    string `json:"address"`
	State      string `json:"state"`
	Current    bool   `json:"current"`
}

// Snapshot is a point-in-time view of the supervisor.
type Snapshot struct {
	State      string       `json:"state"`
	Generation uint64       `json:"generation"`
	Address    string       `json:"address"`
	Workers    []WorkerInfo `json:"workers"`
}

// Snapshot reports the supervisor and worker states.
func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{State: s.State().String()}
	cur := s.current.Load()
	if cur != nil {
		snap.Generation = cur.gen
		snap.Address = cur.w.Address()
	}

	s.mu.Lock()
	for _, h := range s.workers {
		snap.Workers = append(snap.Workers, WorkerInfo{
			Generation: h.gen,
			ID:         h.w.ID(),
			Address:    h.w.Address(),
			State:      h.w.State().String(),
			Current:    h == cur,
		})
	}
	s.mu.Unlock()

	sort.Slice(snap.Workers, func(i, j int) bool {
		return snap.Workers[i].Generation < snap.Workers[j].Generation
	})
	return snap
}

func (s *Supervisor) spawn(address string, restarted bool) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, internalerr.ErrClosed
	}

	s.nextGen++
	gen := s.nextGen
	w, err := worker.Spawn(s.ctx, worker.Config{
		ID:          fmt.Sprintf("worker-%d", gen),
		Address:     address,
		MaxPending:  s.cfg.MaxPending,
		MailboxSize: s.cfg.MailboxSize,
	}, worker.Deps{
		Trainer:   s.trainer,
		Tokenizer: s.tok,
		IDs:       s.ids,
		Metrics:   s.metrics,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}

	h := &handle{gen: gen, w: w, restarted: restarted}
	s.workers[gen] = h
	s.metrics.Spawned()
	s.wg.Add(1)
	go s.listen(h)
	return h, nil
}

func (s *Supervisor) listen(h *handle) {
	defer s.wg.Done()
	id := h.w.ID()
	for msg := range h.w.Outbox() {
		s.dispatch(id, msg)
	}
	s.exited(h)
}

func (s *Supervisor) dispatch(id string, msg protocol.Message) {
	if ce := s.logger.Check(zap.DebugLevel, "worker message"); ce != nil {
		desc, err := protocol.Describe(msg)
		if err != nil {
			desc = fmt.Sprintf("%T", msg)
		}
		ce.Write(zap.String("worker_id", id), zap.String("message", desc))
	}

	switch m := msg.(type) {
	case protocol.Status:
		s.sink.Status(id, m)
	case protocol.Log:
		s.sink.Log(id, m.Text)
	case protocol.Error:
		if m.Request != nil {
			switch {
			case errors.Is(m, internalerr.ErrOverloaded):
				s.metrics.Rejected(metrics.ReasonOverloaded)
			case errors.Is(m, internalerr.ErrShuttingDown):
				s.metrics.Rejected(metrics.ReasonShuttingDown)
			}
		}
		s.sink.Error(id, m)
	case protocol.Result:
		s.metrics.Result(m.Category)
		s.sink.Result(id, m)
	case protocol.Ack:
		s.logger.Info("worker acknowledged shutdown", zap.String("worker_id", m.WorkerID))
	case protocol.Payload, protocol.Shutdown:
		s.sink.Error(id, fmt.Errorf("%w: %s sent by worker", internalerr.ErrUnknownMessage, msg.Kind()))
	default:
		s.sink.Error(id, fmt.Errorf("%w: %T", internalerr.ErrUnknownMessage, msg))
	}
}

func (s *Supervisor) exited(h *handle) {
	<-h.w.Done()
	s.mu.Lock()
	delete(s.workers, h.gen)
	s.mu.Unlock()

	if h.restarted && !isReady(h) {
		// The restart loop is watching this one.
		return
	}
	s.handleExit(h)
}

// handleExit reacts to the exit of h if it is the current worker. It acts
// at most once per handle.
func (s *Supervisor) handleExit(h *handle) {
	err := h.w.Err()
	if err == nil || s.current.Load() != h || s.State() == Closed {
		return
	}
	if !h.handled.CompareAndSwap(false, true) {
		return
	}

	switch {
	case errors.Is(err, internalerr.ErrWorkerCrashed):
		s.logger.Error("worker crashed", zap.String("worker_id", h.w.ID()), zap.Error(err))
		s.sink.Error(h.w.ID(), err)
		go s.restart(h)
	case errors.Is(err, internalerr.ErrTrainingFailed):
		s.setState(Failed)
	}
}

// restart respawns a crashed current worker with exponential backoff until
// a replacement trains or MaxRestarts is reached.
func (s *Supervisor) restart(crashed *handle) {
	s.setState(Restarting)
	backoff := retry.WithMaxRetries(s.cfg.MaxRestarts, retry.NewExponential(s.cfg.RestartBackoff))

	prev := crashed
	for attempt := 1; ; attempt++ {
		delay, stop := backoff.Next()
		if stop {
			err := fmt.Errorf("%w: %s after %d attempts", internalerr.ErrRestartsExhausted, crashed.w.ID(), attempt-1)
			s.setState(Failed)
			s.logger.Error("giving up on worker", zap.Error(err))
			s.sink.Error(prev.w.ID(), err)
			return
		}

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}

		h, err := s.spawn(crashed.w.Address(), true)
		if err != nil {
			if errors.Is(err, internalerr.ErrClosed) {
				return
			}
			continue
		}
		if !s.current.CompareAndSwap(prev, h) {
			// A reload replaced the crashed worker meanwhile.
			h.w.Kill()
			return
		}
		prev = h
		s.metrics.SetGeneration(h.gen)
		s.logger.Info("worker respawned", zap.String("worker_id", h.w.ID()), zap.Int("attempt", attempt))

		select {
		case <-h.w.Ready():
		case <-h.w.Done():
		case <-s.ctx.Done():
			return
		}
		if isReady(h) {
			s.setState(Running)
			return
		}
		if !errors.Is(h.w.Err(), internalerr.ErrWorkerCrashed) {
			s.setState(Failed)
			return
		}
		s.sink.Error(h.w.ID(), h.w.Err())
	}
}

func isReady(h *handle) bool {
	select {
	case <-h.w.Ready():
		return true
	default:
		return false
	}
}
