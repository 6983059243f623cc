package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CallsTotal.Inc()
	m.CallsActive.Set(2)
	m.FramesForwarded.WithLabelValues(DirectionCallerToAI).Add(3)
	m.FramesDropped.WithLabelValues(DirectionAIToCaller).Inc()
	m.StateTransitions.WithLabelValues("awaiting_start", "ai_connecting").Inc()
	m.CallDuration.Observe(12)

	body := scrape(t, reg)
	assert.Contains(t, body, "voice_bridge_calls_total 1")
	assert.Contains(t, body, "voice_bridge_calls_active 2")
	assert.Contains(t, body, `voice_bridge_frames_forwarded_total{direction="caller_to_ai"} 3`)
	assert.Contains(t, body, `voice_bridge_frames_dropped_total{direction="ai_to_caller"} 1`)
	assert.Contains(t, body, `voice_bridge_state_transitions_total{from="awaiting_start",to="ai_connecting"} 1`)
	assert.Contains(t, body, "voice_bridge_call_duration_seconds_count 1")
}

func TestSeparateRegistries(t *testing.T) {
	// Each registry gets its own collectors, so building twice must not panic
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
