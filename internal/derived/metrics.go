package derived

import "github.com/prometheus/client_golang/prometheus"

// Tick results recorded by Metrics.
const (
	ResultPublished     = "published"
	ResultComputeFailed = "compute_failed"
	ResultWriteFailed   = "write_failed"
	ResultTimeout       = "timeout"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	ticks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scada_overlay",
			Subsystem: "derived",
			Name:      "ticks_total",
			Help:      "Derived value ticks by name and result",
		}, []string{"name", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scada_overlay",
			Subsystem: "derived",
			Name:      "tick_duration_seconds",
			Help:      "Time from tick start to publish or drop",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
	}

	for _, c := range []prometheus.Collector{m.ticks, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) tick(name, result string, seconds float64) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(name, result).Inc()
	m.duration.WithLabelValues(name).Observe(seconds)
}
