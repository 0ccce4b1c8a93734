package pathoram

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the per-shard counters and histograms for operational
// visibility: access count per shard, a stash-size gauge, and bucket
// read/write latency. None of this is a testable protocol invariant --
// observability is an external, ambient concern -- but the server binary
// registers these the way a production Go service does rather than
// printing to stdout.
type Metrics struct {
	Accesses        *prometheus.CounterVec
	StashSize       *prometheus.GaugeVec
	BucketReadTime  *prometheus.HistogramVec
	BucketWriteTime *prometheus.HistogramVec
}

// NewMetrics constructs and registers a Metrics set on reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in the server binary.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Accesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathoram",
			Name:      "accesses_total",
			Help:      "Number of Access calls served, by shard and operation.",
		}, []string{"shard", "op"}),
		StashSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pathoram",
			Name:      "stash_size",
			Help:      "Current stash occupancy, by shard.",
		}, []string{"shard"}),
		BucketReadTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pathoram",
			Name:      "bucket_read_seconds",
			Help:      "Latency of a single read_path round trip, by shard.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"shard"}),
		BucketWriteTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pathoram",
			Name:      "bucket_write_seconds",
			Help:      "Latency of a single write_path round trip, by shard.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"shard"}),
	}
	reg.MustRegister(m.Accesses, m.StashSize, m.BucketReadTime, m.BucketWriteTime)
	return m
}

// ObserveReadPath records the duration of a read_path call for shard.
func (m *Metrics) ObserveReadPath(shard string, d time.Duration) {
	if m == nil {
		return
	}
	m.BucketReadTime.WithLabelValues(shard).Observe(d.Seconds())
}

// ObserveWritePath records the duration of a write_path call for shard.
func (m *Metrics) ObserveWritePath(shard string, d time.Duration) {
	if m == nil {
		return
	}
	m.BucketWriteTime.WithLabelValues(shard).Observe(d.Seconds())
}

// ObserveAccess increments the access counter for shard/op ("read" or
// "write") and refreshes the stash-size gauge.
func (m *Metrics) ObserveAccess(shard, op string, stashSize int) {
	if m == nil {
		return
	}
	m.Accesses.WithLabelValues(shard, op).Inc()
	m.StashSize.WithLabelValues(shard).Set(float64(stashSize))
}
