package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons.
const (
	ReasonOverloaded   = "overloaded"
	ReasonShuttingDown = "shutting_down"
	ReasonNotStarted   = "not_started"
)

// Worker exit reasons.
const (
	ExitStopped        = "stopped"
	ExitTrainingFailed = "training_failed"
	ExitCrashed        = "crashed"
	ExitKilled         = "killed"
)

// Metrics holds the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prom.Registry

	submitted  prom.Counter
	rejected   *prom.CounterVec
	results    *prom.CounterVec
	spawns     prom.Counter
	exits      *prom.CounterVec
	reloads    *prom.CounterVec
	training   *prom.HistogramVec
	generation prom.Gauge
	pending    prom.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prom.NewRegistry()
	m := &Metrics{
		registry: reg,
		submitted: prom.NewCounter(prom.CounterOpts{
			Namespace: "sheetclass",
			Name:      "requests_submitted_total",
			Help:      "Classification requests accepted by the supervisor.",
		}),
		rejected: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sheetclass",
			Name:      "requests_rejected_total",
			Help:      "Classification requests rejected, by reason.",
		}, []string{"reason"}),
		results: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sheetclass",
			Name:      "results_total",
			Help:      "Classification results emitted, by category.",
		}, []string{"category"}),
		spawns: prom.NewCounter(prom.CounterOpts{
			Namespace: "sheetclass",
			Name:      "worker_spawns_total",
			Help:      "Workers spawned, including restarts.",
		}),
		exits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sheetclass",
			Name:      "worker_exits_total",
			Help:      "Worker exits, by reason.",
		}, []string{"reason"}),
		reloads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sheetclass",
			Name:      "reloads_total",
			Help:      "Hot reloads, by outcome.",
		}, []string{"outcome"}),
		training: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "sheetclass",
			Name:      "training_phase_seconds",
			Help:      "Duration of training phases.",
			Buckets:   prom.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		generation: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sheetclass",
			Name:      "current_generation",
			Help:      "Generation of the worker currently serving requests.",
		}),
		pending: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sheetclass",
			Name:      "pending_requests",
			Help:      "Requests queued while a worker trains.",
		}),
	}
	reg.MustRegister(m.submitted, m.rejected, m.results, m.spawns, m.exits,
		m.reloads, m.training, m.generation, m.pending)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prom.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prom.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Submitted() {
	if m != nil {
		m.submitted.Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Result(category string) {
	if m != nil {
		m.results.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) Spawned() {
	if m != nil {
		m.spawns.Inc()
	}
}

func (m *Metrics) Exited(reason string) {
	if m != nil {
		m.exits.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Reloaded(outcome string) {
	if m != nil {
		m.reloads.WithLabelValues(outcome).Inc()
	}
}

// ObservePhase records a training phase ("fetch", "build", "train").
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m != nil {
		m.training.WithLabelValues(phase).Observe(d.Seconds())
	}
}

func (m *Metrics) SetGeneration(gen uint64) {
	if m != nil {
		m.generation.Set(float64(gen))
	}
}

func (m *Metrics) AddPending(delta int) {
	if m != nil {
		m.pending.Add(float64(delta))
	}
}
