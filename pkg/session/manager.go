package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/silviot/twilio_realtime_bridge_go/pkg/mediastream"
	"github.com/silviot/twilio_realtime_bridge_go/pkg/metrics"
	"github.com/silviot/twilio_realtime_bridge_go/pkg/realtime"
)

// Defaults used when the service is started without custom prompts
const (
	DefaultInstructions = "You are a friendly phone assistant. Keep your answers short and conversational, " +
		"speak naturally, and ask one question at a time."
	DefaultGreeting = "Greet the caller immediately and ask how you can help them today."
)

// Manager accepts media stream connections and runs one Bridge per call.
// Bridges share nothing; the registry exists for health and shutdown only.
type Manager struct {
	bridges map[string]*Bridge // bridge ID -> Bridge
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	bridgeCfg BridgeConfig
	upgrader  websocket.Upgrader
}

// ManagerConfig holds configuration for the session manager
type ManagerConfig struct {
	RealtimeURL      string
	RealtimeModel    string
	APIKey           string
	Voice            string
	Instructions     string
	Greeting         string // instructions for the first response
	HandshakeTimeout time.Duration
	Metrics          *metrics.Metrics
	Logger           *slog.Logger

	// NewAIConn overrides the AI connector, mainly for tests
	NewAIConn func(logger *slog.Logger) AIConn
}

// NewManager creates a new session manager
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}

	newAI := cfg.NewAIConn
	if newAI == nil {
		newAI = func(logger *slog.Logger) AIConn {
			return realtime.NewClient(realtime.Config{
				URL:              cfg.RealtimeURL,
				Model:            cfg.RealtimeModel,
				APIKey:           cfg.APIKey,
				HandshakeTimeout: cfg.HandshakeTimeout,
				Logger:           logger,
			})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		bridges: make(map[string]*Bridge),
		ctx:     ctx,
		cancel:  cancel,
		logger:  cfg.Logger,
		bridgeCfg: BridgeConfig{
			Session: realtime.DefaultSessionConfig(cfg.Instructions, cfg.Voice),
			Greeting: realtime.ResponseOptions{
				Modalities:   []string{realtime.ModalityAudio, realtime.ModalityText},
				Instructions: cfg.Greeting,
			},
			HandshakeTimeout: cfg.HandshakeTimeout,
			NewAIConn:        newAI,
			Metrics:          cfg.Metrics,
			Logger:           cfg.Logger,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio does not send a browser Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Accept starts a bridge for an upgraded media stream connection. The bridge
// runs until the call ends or the manager is closed.
func (m *Manager) Accept(ws *websocket.Conn) *Bridge {
	conn := mediastream.NewConn(ws, mediastream.Config{Logger: m.logger})
	bridge := NewBridge(conn, m.bridgeCfg)

	m.mu.Lock()
	m.bridges[bridge.ID()] = bridge
	m.mu.Unlock()

	m.logger.Info("media stream accepted", "bridgeID", bridge.ID(), "remote", conn.RemoteAddr())

	conn.Start()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		bridge.Run(m.ctx)

		m.mu.Lock()
		delete(m.bridges, bridge.ID())
		m.mu.Unlock()
	}()

	return bridge
}

// Bridge returns an active bridge by ID
func (m *Manager) Bridge(id string) (*Bridge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bridges[id]
	return b, ok
}

// CallCount returns the number of calls currently bridged
func (m *Manager) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bridges)
}

// Close terminates every call and waits for the bridges to finish
func (m *Manager) Close() error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.logger.Warn("bridge shutdown timeout", "remaining", m.CallCount())
	}

	m.logger.Info("session manager closed")
	return nil
}
