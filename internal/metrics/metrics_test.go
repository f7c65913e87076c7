package metrics_test

import (
	"peerlink/backend/internal/metrics"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.HubPublished.Inc()
	m.HubDropped.WithLabelValues(metrics.DropSlow).Add(2)
	m.Sessions.WithLabelValues("signaling").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HubPublished))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.HubDropped.WithLabelValues(metrics.DropSlow)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "peerlink_hub_published_total")
	assert.Contains(t, names, "peerlink_sessions")
}

func TestNop_DoesNotRegister(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.Nop()
		metrics.Nop()
	})
}
