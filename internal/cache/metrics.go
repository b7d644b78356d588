package cache

import "github.com/prometheus/client_golang/prometheus"

// Request outcomes recorded by Metrics.
const (
	OutcomeHit        = "hit"
	OutcomeJoined     = "joined"
	OutcomeThrottled  = "throttled"
	OutcomeFetched    = "fetched"
	OutcomeUnresolved = "unresolved"
)

// Metrics holds the coalescer's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	reads          *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	callbackPanics prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scada_overlay",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Resolve requests by outcome",
		}, []string{"outcome"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scada_overlay",
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Backend reads by result",
		}, []string{"result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scada_overlay",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache clears by source",
		}, []string{"source"}),
		callbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scada_overlay",
			Subsystem: "cache",
			Name:      "callback_panics_total",
			Help:      "Callbacks that panicked and were recovered",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.reads, m.invalidations, m.callbackPanics} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) read(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.reads.WithLabelValues(result).Inc()
}

func (m *Metrics) invalidation(source string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(source).Inc()
}

func (m *Metrics) callbackPanic() {
	if m == nil {
		return
	}
	m.callbackPanics.Inc()
}
