package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/cache"
	"github.com/goliatone/go-dispute/generation"
)

const namespace = "dispute"

// Recorder exports engine, gateway and cache measurements to Prometheus.
// It satisfies the engine's step and run recorders and the gateway observer.
type Recorder struct {
	registry *prometheus.Registry

	stepDuration       *prometheus.HistogramVec
	stepOutcomes       *prometheus.CounterVec
	runsStarted        prometheus.Counter
	runsFinished       *prometheus.CounterVec
	securityViolations prometheus.Counter
	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
}

// NewRecorder registers the collectors on a fresh registry. A nil registry
// creates a private one.
func NewRecorder(registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	r := &Recorder{
		registry: registry,
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of pipeline step executions",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		stepOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_executions_total",
				Help:      "Pipeline step executions by outcome",
			},
			[]string{"step", "outcome"},
		),
		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Dispute runs created",
			},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Dispute runs that reached a terminal status",
			},
			[]string{"status"},
		),
		securityViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "security_violations_total",
				Help:      "Refunds blocked because no approved review was persisted",
			},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Resolution proposals by source",
			},
			[]string{"outcome"},
		),
		generationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Time to obtain a resolution proposal",
				Buckets:   []float64{0.005, 0.05, 0.25, 1, 2.5, 5, 10, 30},
			},
		),
	}
	registry.MustRegister(
		r.stepDuration,
		r.stepOutcomes,
		r.runsStarted,
		r.runsFinished,
		r.securityViolations,
		r.generations,
		r.generationDuration,
	)
	return r
}

func (r *Recorder) RecordDuration(name string, d time.Duration) {
	r.stepDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (r *Recorder) RecordError(name string) {
	r.stepOutcomes.WithLabelValues(name, "error").Inc()
}

func (r *Recorder) RecordSuccess(name string) {
	r.stepOutcomes.WithLabelValues(name, "success").Inc()
}

func (r *Recorder) RecordRunStarted() {
	r.runsStarted.Inc()
}

func (r *Recorder) RecordRunFinished(status dispute.Status) {
	r.runsFinished.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) RecordSecurityViolation() {
	r.securityViolations.Inc()
}

func (r *Recorder) ObserveGeneration(outcome generation.Outcome, d time.Duration) {
	r.generations.WithLabelValues(string(outcome)).Inc()
	r.generationDuration.Observe(d.Seconds())
}

// WatchCache exports cache statistics, read at scrape time.
func (r *Recorder) WatchCache(stats func() cache.Stats) error {
	if stats == nil {
		return nil
	}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "entries", Help: "Cached proposals",
		}, func() float64 { return float64(stats().Size) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total", Help: "Cache hits",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total", Help: "Cache misses",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total", Help: "Entries evicted at capacity",
		}, func() float64 { return float64(stats().Evictions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hit_rate", Help: "Hits over lookups",
		}, func() float64 { return stats().HitRate }),
	}
	for _, g := range gauges {
		if err := r.registry.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
