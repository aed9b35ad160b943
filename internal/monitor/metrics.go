package monitor

import (
	"net/http"
	"sync"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/telemos/pkg/logger"
)

var (
	// SessionsStarted counts sessions that completed StartSession, by app.
	SessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemos_sessions_started_total",
		Help: "Sessions that completed startup",
	}, []string{"app"})
	// SessionsEnded counts EndSession outcomes.
	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemos_sessions_ended_total",
		Help: "Sessions ended, partitioned by outcome",
	}, []string{"app", "outcome"})
	// SessionState is 1 for the current lifecycle state of each app.
	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "telemos_session_state",
		Help: "Current session lifecycle state (1 = active state)",
	}, []string{"app", "state"})
	HeartbeatsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemos_heartbeats_total",
		Help: "Session heartbeat messages published",
	})
	// FeatureInitFailures counts managers whose Init failed.
	FeatureInitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemos_feature_init_failures_total",
		Help: "Feature manager initialization failures",
	}, []string{"manager"})
	RawInputBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemos_raw_input_bytes_total",
		Help: "Raw telemetry bytes read from the input source",
	})
	EndOfDataReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemos_end_of_data_total",
		Help: "End of data notifications received",
	})
	PerformanceSummaries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemos_performance_summaries_total",
		Help: "Performance summary messages published",
	})
	// ProcessRSS is the resident set size sampled for performance summaries.
	ProcessRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemos_process_rss_bytes",
		Help: "Resident memory of the telemos process",
	})
)

var registerOnce sync.Once

// Register adds all collectors to reg. Only the first call has effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(SessionsStarted, SessionsEnded, SessionState, HeartbeatsSent,
			FeatureInitFailures, RawInputBytes, EndOfDataReceived, PerformanceSummaries, ProcessRSS)
	})
}

// SetSessionState marks state as the only active state for app.
func SetSessionState(app string, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SessionState.WithLabelValues(app, s).Set(v)
	}
}

// NewMux builds the observability mux: /metrics plus the health
// handler's /live and /ready endpoints when health is non-nil.
func NewMux(health healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if health != nil {
		mux.HandleFunc("/live", health.LiveEndpoint)
		mux.HandleFunc("/ready", health.ReadyEndpoint)
	}
	return mux
}

// InitMetrics registers Prometheus metrics and starts an HTTP server to expose them.
// It takes an address string (e.g., ":9090") on which to listen for requests.
func InitMetrics(addr string, health healthcheck.Handler) {
	Register(prometheus.DefaultRegisterer)

	mux := NewMux(health)
	go func() {
		logger.Log.Info("Metrics server starting", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
}

// Personal.AI order the ending
