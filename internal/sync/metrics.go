package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the sync engine. Construct with a Registerer (or nil
// to skip registration, e.g. in tests).
type Metrics struct {
	syncs    *prometheus.CounterVec
	duration prometheus.Histogram
	records  prometheus.Counter
}

// NewMetrics builds and optionally registers the sync collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cliniccore_syncs_total",
			Help: "Completed sync attempts by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cliniccore_sync_duration_seconds",
			Help:    "Wall time of completed syncs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cliniccore_sync_records_applied_total",
			Help: "Records applied to the local store by sync.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.syncs, m.duration, m.records)
	}
	return m
}

func (m *Metrics) observe(result string, started time.Time, records int) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(result).Inc()
	m.duration.Observe(time.Since(started).Seconds())
	m.records.Add(float64(records))
}
