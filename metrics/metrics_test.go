package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SetPresence(1, 1)
	m.Broadcast("KICKED")
	m.Evicted()
	m.Mutation("create")
	m.ProtocolDropped()
}

func TestCounters(t *testing.T) {
	m := New()
	m.Broadcast("ALARM_CREATED")
	m.Broadcast("ALARM_CREATED")
	m.Mutation("snooze")
	m.SetPresence(3, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("ALARM_CREATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("snooze")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.connectionsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsIdentified))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Evicted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "syncalarm_subscribers_evicted_total 1"))
}
