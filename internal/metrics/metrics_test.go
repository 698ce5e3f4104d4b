package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TurnsAppended.WithLabelValues("transcript").Inc()
	m.WebhookDeliveries.WithLabelValues("chat", "duplicate").Add(2)
	m.StuckBots.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsAppended.WithLabelValues("transcript")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("chat", "duplicate")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StuckBots))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["cogito_turns_appended_total"])
	assert.True(t, names["cogito_stuck_bots"])
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
