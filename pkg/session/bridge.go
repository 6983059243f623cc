package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/silviot/twilio_realtime_bridge_go/pkg/audio"
	"github.com/silviot/twilio_realtime_bridge_go/pkg/mediastream"
	"github.com/silviot/twilio_realtime_bridge_go/pkg/metrics"
	"github.com/silviot/twilio_realtime_bridge_go/pkg/realtime"
)

// DefaultHandshakeTimeout bounds the time from the telephony start event to
// the AI session being ready
const DefaultHandshakeTimeout = 15 * time.Second

// TelephonyConn is the caller side of a bridge. *mediastream.Conn implements it.
type TelephonyConn interface {
	Events() <-chan mediastream.Event
	SendAudio(streamSID, payload string) error
	SendClear(streamSID string) error
	IsOpen() bool
	Close() error
}

// AIConn is the AI side of a bridge. *realtime.Client implements it.
type AIConn interface {
	Events() <-chan realtime.Event
	Open(ctx context.Context)
	SendConfiguration(cfg realtime.SessionConfig) error
	SendAudio(payload string) error
	CreateResponse(opts realtime.ResponseOptions) error
	IsConnected() bool
	Close() error
}

// BridgeConfig holds per-call settings shared by every bridge of a Manager
type BridgeConfig struct {
	Session          realtime.SessionConfig
	Greeting         realtime.ResponseOptions
	HandshakeTimeout time.Duration
	// NewAIConn builds the AI connector once the stream starts
	NewAIConn func(logger *slog.Logger) AIConn
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Bridge couples one telephony stream with one AI session for the length of a call
type Bridge struct {
	id        string
	streamSID string
	callSID   string

	telephony TelephonyConn
	ai        AIConn
	newAI     func(logger *slog.Logger) AIConn

	session          realtime.SessionConfig
	greeting         realtime.ResponseOptions
	handshakeTimeout time.Duration
	handshakeTimer   *time.Timer
	timeoutCh        <-chan time.Time

	lifecycle *fsm.FSM
	inbound   audio.Stats // caller -> AI
	outbound  audio.Stats // AI -> caller
	startedAt time.Time
	done      chan struct{}

	mu      sync.Mutex
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBridge creates a bridge for an accepted telephony connection. The AI
// side is not created until the stream starts.
func NewBridge(telephony TelephonyConn, cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	id := uuid.New().String()
	b := &Bridge{
		id:               id,
		telephony:        telephony,
		newAI:            cfg.NewAIConn,
		session:          cfg.Session,
		greeting:         cfg.Greeting,
		handshakeTimeout: cfg.HandshakeTimeout,
		startedAt:        time.Now(),
		done:             make(chan struct{}),
		logger:           cfg.Logger.With("bridgeID", id),
		metrics:          cfg.Metrics,
	}
	b.lifecycle = newLifecycle(b.onTransition)

	b.metrics.CallsTotal.Inc()
	b.metrics.CallsActive.Inc()

	return b
}

// ID returns the bridge identifier assigned at accept time
func (b *Bridge) ID() string {
	return b.id
}

// State returns the current lifecycle state
func (b *Bridge) State() State {
	return State(b.lifecycle.Current())
}

// StreamID returns the telephony stream identifier, empty before start
func (b *Bridge) StreamID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamSID
}

// CallID returns the telephony call identifier, empty before start
func (b *Bridge) CallID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callSID
}

// Done is closed once the bridge has terminated
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Run processes events from both sides until the call ends. All state
// changes happen on this goroutine.
func (b *Bridge) Run(ctx context.Context) {
	b.logger.Info("bridge started")

	for {
		b.mu.Lock()
		var aiEvents <-chan realtime.Event
		if b.ai != nil {
			aiEvents = b.ai.Events()
		}
		timeout := b.timeoutCh
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			b.Terminate("service shutting down")
		case ev := <-b.telephony.Events():
			b.handleTelephonyEvent(ctx, ev)
		case ev := <-aiEvents:
			b.handleAIEvent(ev)
		case <-timeout:
			b.handleHandshakeTimeout()
		}

		if b.State() == StateTerminated {
			return
		}
	}
}

// handleTelephonyEvent dispatches one frame from the caller side
func (b *Bridge) handleTelephonyEvent(ctx context.Context, ev mediastream.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State() == StateTerminated {
		b.logger.Debug("ignoring telephony event after termination", "event", ev.Type)
		return
	}

	switch ev.Type {
	case mediastream.EventConnected:
		b.logger.Info("media stream connected", "protocol", ev.Message.Protocol, "version", ev.Message.Version)

	case mediastream.EventStart:
		b.handleStart(ctx, ev.Message.Start)

	case mediastream.EventMedia:
		b.forwardCallerAudio(ev.Message.Media.Payload)

	case mediastream.EventStop:
		b.logger.Info("media stream stopped", "streamSid", b.streamSID)
		b.terminateLocked("stream stopped")

	case mediastream.EventMark:
		if ev.Message.Mark != nil {
			b.logger.Debug("playback mark reached", "name", ev.Message.Mark.Name)
		}

	case mediastream.EventDTMF:
		b.logger.Info("caller pressed key", "digit", ev.Message.DTMF.Digit)

	case mediastream.EventClosed:
		if ev.Err != nil {
			b.metrics.Errors.WithLabelValues("telephony_transport").Inc()
			b.logger.Warn("media stream transport error", "error", ev.Err)
		}
		b.terminateLocked("media stream closed")

	default:
		b.logger.Debug("ignoring media stream event", "event", ev.Type)
	}
}

// handleStart records the stream identifiers and opens the AI side. A start
// outside awaiting_start never opens a second AI connection.
func (b *Bridge) handleStart(ctx context.Context, start *mediastream.StartMessage) {
	if err := b.fire(evStart); err != nil {
		b.metrics.Errors.WithLabelValues("protocol_violation").Inc()
		b.logger.Warn("unexpected start event, ignoring", "state", b.State(), "error", err)
		return
	}

	b.streamSID = start.StreamSID
	b.callSID = start.CallSID
	b.logger = b.logger.With("streamSid", start.StreamSID, "callSid", start.CallSID)
	b.logger.Info("stream started",
		"encoding", start.MediaFormat.Encoding,
		"sampleRate", start.MediaFormat.SampleRate,
		"tracks", start.Tracks)

	if b.newAI == nil {
		b.logger.Error("no AI connector configured")
		b.terminateLocked("no AI connector")
		return
	}

	b.ai = b.newAI(b.logger)
	b.ai.Open(ctx)

	b.handshakeTimer = time.NewTimer(b.handshakeTimeout)
	b.timeoutCh = b.handshakeTimer.C
}

// forwardCallerAudio sends a caller frame to the AI only once the session is
// active. Earlier frames are dropped, never queued.
func (b *Bridge) forwardCallerAudio(payload string) {
	if b.State() != StateActive || b.ai == nil || !b.ai.IsConnected() {
		b.inbound.Drop()
		b.metrics.FramesDropped.WithLabelValues(metrics.DirectionCallerToAI).Inc()
		return
	}

	if err := b.ai.SendAudio(payload); err != nil {
		b.logger.Warn("failed to forward caller audio", "error", err)
		b.inbound.Drop()
		b.metrics.FramesDropped.WithLabelValues(metrics.DirectionCallerToAI).Inc()
		return
	}

	n := b.inbound.Add(payload)
	b.metrics.FramesForwarded.WithLabelValues(metrics.DirectionCallerToAI).Inc()
	b.metrics.AudioSeconds.WithLabelValues(metrics.DirectionCallerToAI).
		Add(audio.Duration(n, audio.MulawSampleRate).Seconds())
}

// handleAIEvent dispatches one event from the AI side
func (b *Bridge) handleAIEvent(ev realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State() == StateTerminated {
		b.logger.Debug("ignoring AI event after termination", "kind", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case realtime.EventOpen:
		if err := b.ai.SendConfiguration(b.session); err != nil {
			b.metrics.Errors.WithLabelValues("ai_transport").Inc()
			b.logger.Error("failed to send session configuration", "error", err)
			b.terminateLocked("session configuration failed")
			return
		}
		if err := b.fire(evAIOpen); err != nil {
			b.logger.Warn("unexpected AI open event", "state", b.State(), "error", err)
			return
		}
		b.logger.Info("AI session configured", "voice", b.session.Voice)

	case realtime.EventSessionCreated:
		if err := b.fire(evSessionReady); err != nil {
			b.metrics.Errors.WithLabelValues("protocol_violation").Inc()
			b.logger.Warn("unexpected session.created, ignoring", "state", b.State(), "error", err)
			return
		}
		b.stopHandshakeTimer()
		if ev.Session != nil {
			b.logger.Info("AI session ready", "sessionID", ev.Session.ID, "model", ev.Session.Model)
		}
		if err := b.ai.CreateResponse(b.greeting); err != nil {
			b.logger.Warn("failed to trigger greeting", "error", err)
		}

	case realtime.EventAudioDelta:
		b.forwardAIAudio(ev.Delta)

	case realtime.EventResponseDone:
		if ev.Response != nil {
			b.logger.Debug("AI response completed", "responseID", ev.Response.ID, "status", ev.Response.Status)
		}

	case realtime.EventItemCreated:
		if text := ev.Item.Text(); text != "" {
			b.logger.Info("conversation item", "role", ev.Item.Role, "text", text)
		}

	case realtime.EventSpeechStarted:
		// caller barged in; drop what Twilio still has queued for playback
		if b.streamSID != "" && b.telephony.IsOpen() {
			if err := b.telephony.SendClear(b.streamSID); err != nil {
				b.logger.Debug("failed to clear playback", "error", err)
			}
		}

	case realtime.EventError:
		b.metrics.Errors.WithLabelValues("ai_error").Inc()
		b.logger.Error("AI service error", "error", ev.APIError)

	case realtime.EventTransportError:
		b.metrics.Errors.WithLabelValues("ai_transport").Inc()
		b.logger.Error("AI transport error", "error", ev.Err)
		b.terminateLocked("AI transport error")

	case realtime.EventClosed:
		b.logger.Info("AI connection closed", "normal", realtime.IsNormalClose(ev.Err), "error", ev.Err)
		b.terminateLocked("AI connection closed")

	default:
		b.logger.Debug("AI event", "type", ev.Type)
	}
}

// forwardAIAudio plays an AI frame to the caller if the stream is still there
func (b *Bridge) forwardAIAudio(payload string) {
	if b.streamSID == "" || !b.telephony.IsOpen() {
		b.outbound.Drop()
		b.metrics.FramesDropped.WithLabelValues(metrics.DirectionAIToCaller).Inc()
		return
	}

	if err := b.telephony.SendAudio(b.streamSID, payload); err != nil {
		b.logger.Warn("failed to forward AI audio", "error", err)
		b.outbound.Drop()
		b.metrics.FramesDropped.WithLabelValues(metrics.DirectionAIToCaller).Inc()
		return
	}

	n := b.outbound.Add(payload)
	b.metrics.FramesForwarded.WithLabelValues(metrics.DirectionAIToCaller).Inc()
	b.metrics.AudioSeconds.WithLabelValues(metrics.DirectionAIToCaller).
		Add(audio.Duration(n, audio.MulawSampleRate).Seconds())
}

func (b *Bridge) handleHandshakeTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timeoutCh = nil
	switch b.State() {
	case StateAIConnecting, StateAIHandshaking:
		b.metrics.Errors.WithLabelValues("handshake_timeout").Inc()
		b.logger.Error("AI handshake timed out", "timeout", b.handshakeTimeout, "state", b.State())
		b.terminateLocked("AI handshake timed out")
	}
}

// Terminate ends the call and closes both connections. Safe to call more than once.
func (b *Bridge) Terminate(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminateLocked(reason)
}

// terminateLocked is the single exit path: every fatal condition lands here
// and both connectors are closed exactly once. Caller holds b.mu.
func (b *Bridge) terminateLocked(reason string) {
	if b.State() == StateTerminated {
		return
	}
	if err := b.fire(evTerminate); err != nil {
		b.logger.Error("failed to enter terminated state", "error", err)
	}

	b.stopHandshakeTimer()

	if b.ai != nil {
		if err := b.ai.Close(); err != nil {
			b.logger.Warn("failed to close AI connection", "error", err)
		}
	}
	if err := b.telephony.Close(); err != nil {
		b.logger.Warn("failed to close media stream", "error", err)
	}

	elapsed := time.Since(b.startedAt)
	b.metrics.CallsActive.Dec()
	b.metrics.CallDuration.Observe(elapsed.Seconds())

	b.logger.Info("call ended",
		"reason", reason,
		"duration", elapsed.Round(time.Millisecond),
		"callerToAI", b.inbound.String(),
		"aiToCaller", b.outbound.String())

	close(b.done)
}

func (b *Bridge) stopHandshakeTimer() {
	if b.handshakeTimer != nil {
		b.handshakeTimer.Stop()
	}
	b.timeoutCh = nil
}

// fire runs a lifecycle event. A background context is used so that a
// cancelled call context never blocks termination.
func (b *Bridge) fire(event string) error {
	return b.lifecycle.Event(context.Background(), event)
}

func (b *Bridge) onTransition(event, from, to string) {
	b.metrics.StateTransitions.WithLabelValues(from, to).Inc()
	b.logger.Debug("bridge state changed", "event", event, "from", from, "to", to)
}
