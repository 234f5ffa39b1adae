package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionStartedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timetrack",
		Subsystem: "sessions",
		Name:      "last_session_started_timestamp_seconds",
		Help:      "Unix timestamp of the most recent session opened.",
	})
	sessionClosedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timetrack",
		Subsystem: "sessions",
		Name:      "last_session_closed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent session closed.",
	})
)

func init() {
	prometheus.MustRegister(sessionStartedGauge, sessionClosedGauge)
}

// RecordSessionStarted updates the session-open watermark gauge.
func RecordSessionStarted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	sessionStartedGauge.Set(float64(ts.Unix()))
}

// RecordSessionClosed updates the session-close watermark gauge.
func RecordSessionClosed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	sessionClosedGauge.Set(float64(ts.Unix()))
}
