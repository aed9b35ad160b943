package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	Register(reg)
}

func TestSetSessionState(t *testing.T) {
	all := []string{"NOT_STARTED", "RUNNING", "ENDED"}
	SetSessionState("downlink", "RUNNING", all)

	assert.Equal(t, 1.0, gaugeValue(t, SessionState.WithLabelValues("downlink", "RUNNING")))
	assert.Equal(t, 0.0, gaugeValue(t, SessionState.WithLabelValues("downlink", "ENDED")))
}

func TestCountersIncrement(t *testing.T) {
	before := counterValue(t, HeartbeatsSent)
	HeartbeatsSent.Inc()
	assert.Equal(t, before+1, counterValue(t, HeartbeatsSent))
}

func TestMux_ServesHealth(t *testing.T) {
	health := healthcheck.NewHandler()
	health.AddReadinessCheck("never", func() error { return assert.AnError })

	srv := httptest.NewServer(NewMux(health))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
