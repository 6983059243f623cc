package session

import (
	"encoding/json"
	"net/http"
	"time"
)

// CallInfo is the JSON view of an active bridge
type CallInfo struct {
	BridgeID  string `json:"bridgeId"`
	StreamSID string `json:"streamSid,omitempty"`
	CallSID   string `json:"callSid,omitempty"`
	State     State  `json:"state"`
}

// HandleMediaStream handles GET <stream path>: upgrades the Twilio Media
// Streams WebSocket and starts a bridge for it.
func (m *Manager) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		m.logger.Warn("media stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	m.Accept(ws)
}

// HandleHealth handles GET /healthz and GET /health
func (m *Manager) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"calls":     m.CallCount(),
		"timestamp": time.Now().Unix(),
	})
}

// HandleListCalls handles GET /api/v1/calls
func (m *Manager) HandleListCalls(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	calls := make([]CallInfo, 0, len(m.bridges))
	for _, b := range m.bridges {
		calls = append(calls, CallInfo{
			BridgeID:  b.ID(),
			StreamSID: b.StreamID(),
			CallSID:   b.CallID(),
			State:     b.State(),
		})
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"calls": calls,
	})
}
