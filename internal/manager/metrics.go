// ABOUTME: Prometheus metrics for engine lifecycle and request latency
// ABOUTME: Registered on a manager-owned registry so several managers never collide

package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	registry     *prometheus.Registry
	starts       *prometheus.CounterVec
	crashes      *prometheus.CounterVec
	reaped       *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	running      prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		starts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forseti_engine_starts_total",
			Help: "Engine processes started and initialized",
		}, []string{"engine"}),
		crashes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forseti_engine_crashes_total",
			Help: "Engine processes that died, timed out, or broke the protocol",
		}, []string{"engine"}),
		reaped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forseti_engine_reaped_total",
			Help: "Engine processes stopped by the idle reaper",
		}, []string{"engine"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forseti_engine_call_duration_seconds",
			Help:    "Request/response round trip time per engine and message type",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"engine", "type"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forseti_engines_running",
			Help: "Engine processes currently Ready or Idle",
		}),
	}
}
