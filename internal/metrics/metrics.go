// Package metrics exposes Prometheus collectors for the inference
// core: request outcomes by source, cache effectiveness, and circuit
// breaker transitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartflow-crm/inference-gateway/internal/breaker"
)

var (
	inferencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartflow_inference",
			Name:      "requests_total",
			Help:      "Total inference requests handled, partitioned by response source.",
		},
		[]string{"source"},
	)

	inferenceDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smartflow_inference",
			Name:      "request_seconds",
			Help:      "Inference latency in seconds, partitioned by response source.",
			Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)

	cacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartflow_inference",
			Name:      "cache_events_total",
			Help:      "Response cache lookups, partitioned by hit/miss.",
		},
		[]string{"event"},
	)

	breakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartflow_inference",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions, partitioned by breaker and target state.",
		},
		[]string{"breaker", "to"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "smartflow_inference",
			Name:      "breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open).",
		},
		[]string{"breaker"},
	)
)

// Register attaches the inference collectors to the supplied
// Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		inferencesTotal,
		inferenceDurationSeconds,
		cacheEventsTotal,
		breakerTransitionsTotal,
		breakerState,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveInference records one handled request.
func ObserveInference(source string, duration time.Duration) {
	inferencesTotal.WithLabelValues(source).Inc()
	if duration < 0 {
		duration = 0
	}
	inferenceDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveCacheHit and ObserveCacheMiss record response cache lookups.
func ObserveCacheHit()  { cacheEventsTotal.WithLabelValues("hit").Inc() }
func ObserveCacheMiss() { cacheEventsTotal.WithLabelValues("miss").Inc() }

// BreakerListener returns a breaker.Listener that exports transitions
// and current state. Subscribe it on every breaker at wiring time.
func BreakerListener() breaker.Listener {
	return func(tr breaker.Transition) {
		breakerTransitionsTotal.WithLabelValues(tr.Name, tr.To.String()).Inc()
		breakerState.WithLabelValues(tr.Name).Set(stateValue(tr.To))
	}
}

func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 1
	case breaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
