package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/girvi-engine/metrics"
)

func TestRecorder_CountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Transition("transfer", nil)
	m.Transition("transfer", errors.New("bad state"))
	m.Payment("customer", nil)
	m.BatchItem("bulk_release", "")
	m.BatchItem("bulk_release", "OutstandingBalance")
	m.ObserveBatch("bulk_release", 120*time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "girvi_custody_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per result")

	n, err = testutil.GatherAndCount(reg, "girvi_batch_items_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(reg, "girvi_batch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorder_NilSafe(t *testing.T) {
	var m *metrics.Recorder
	assert.NotPanics(t, func() {
		m.Transition("x", nil)
		m.Payment("dealer", errors.New("x"))
		m.BatchItem("x", "")
		m.ObserveBatch("x", time.Second)
	})

	empty := metrics.New(nil)
	assert.NotPanics(t, func() { empty.Payment("customer", nil) })
}
