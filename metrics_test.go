package pathoram

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveAccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveAccess("0", "read", 3)
	m.ObserveAccess("0", "write", 5)

	require.Equal(t, float64(1), testutil.ToFloat64(m.Accesses.WithLabelValues("0", "read")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Accesses.WithLabelValues("0", "write")))
	require.Equal(t, float64(5), testutil.ToFloat64(m.StashSize.WithLabelValues("0")))
}

func TestMetrics_ObserveLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveReadPath("1", 10*time.Millisecond)
	m.ObserveWritePath("1", 20*time.Millisecond)

	require.Equal(t, 1, testutil.CollectAndCount(m.BucketReadTime))
	require.Equal(t, 1, testutil.CollectAndCount(m.BucketWriteTime))
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveAccess("0", "read", 1)
		m.ObserveReadPath("0", time.Millisecond)
		m.ObserveWritePath("0", time.Millisecond)
	})
}
