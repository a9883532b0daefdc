package writer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the writer's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	writes    *prometheus.CounterVec
	items     *prometheus.CounterVec
	conflicts prometheus.Counter
	duration  prometheus.Histogram
}

// NewMetrics creates the writer collectors and registers them with reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entitysync",
			Subsystem: "writer",
			Name:      "transactions_total",
			Help:      "Transactions handed to a writer, by outcome.",
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entitysync",
			Subsystem: "writer",
			Name:      "items_total",
			Help:      "Store items touched by writes, by operation.",
		}, []string{"op"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "entitysync",
			Subsystem: "writer",
			Name:      "bag_conflicts_total",
			Help:      "Bag changes skipped because a place set a different value.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "entitysync",
			Subsystem: "writer",
			Name:      "write_duration_seconds",
			Help:      "Time spent resolving and writing one transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.writes, m.items, m.conflicts, m.duration)
	}
	return m
}

func (m *Metrics) observeWrite(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) addItems(op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.items.WithLabelValues(op).Add(float64(n))
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}
