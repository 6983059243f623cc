// Package metrics exports Prometheus collectors for the bridge service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame directions
const (
	DirectionCallerToAI = "caller_to_ai"
	DirectionAIToCaller = "ai_to_caller"
)

// Metrics holds the collectors. A zero-value pointer is not usable; use New.
type Metrics struct {
	CallsTotal       prometheus.Counter
	CallsActive      prometheus.Gauge
	CallDuration     prometheus.Histogram
	StateTransitions *prometheus.CounterVec
	FramesForwarded  *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	AudioSeconds     *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	const namespace = "voice_bridge"

	return &Metrics{
		CallsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of media stream connections accepted",
		}),
		CallsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently bridged",
		}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of bridged calls in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Bridge lifecycle transitions",
		}, []string{"from", "to"}),
		FramesForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Audio frames forwarded, by direction",
		}, []string{"direction"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames dropped because the receiving side was not ready, by direction",
		}, []string{"direction"}),
		AudioSeconds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Seconds of audio forwarded, by direction",
		}, []string{"direction"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by kind",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
