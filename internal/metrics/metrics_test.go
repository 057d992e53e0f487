package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMustRegister_Twice(t *testing.T) {
	require.NotPanics(t, MustRegister)
	require.NotPanics(t, MustRegister)

	DeliveryTotal.WithLabelValues("sent").Inc()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["worker_delivery_total"])
	// still present from the default registry
	require.True(t, names["go_goroutines"])
	require.GreaterOrEqual(t, testutil.ToFloat64(DeliveryTotal.WithLabelValues("sent")), 1.0)
}
