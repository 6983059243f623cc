package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/silviot/twilio_realtime_bridge_go/pkg/metrics"
	"github.com/silviot/twilio_realtime_bridge_go/pkg/realtime"
	"github.com/silviot/twilio_realtime_bridge_go/pkg/session"
	"github.com/silviot/twilio_realtime_bridge_go/pkg/twiml"
)

func main() {
	// Parse flags
	var (
		port             = flag.String("port", "8080", "HTTP server port")
		apiKey           = flag.String("openai-api-key", "", "OpenAI API key")
		realtimeURL      = flag.String("realtime-url", realtime.DefaultURL, "Realtime API WebSocket URL")
		realtimeModel    = flag.String("realtime-model", realtime.DefaultModel, "Realtime model")
		streamPath       = flag.String("stream-path", "/twilio-stream", "Media stream WebSocket path")
		publicStreamURL  = flag.String("public-stream-url", "", "Public wss:// URL of the stream endpoint used in TwiML")
		voice            = flag.String("voice", "alloy", "AI voice")
		instructionsFile = flag.String("instructions-file", "", "File with the system instructions for the AI")
		greeting         = flag.String("greeting", "", "Instructions for the first AI response")
		handshakeTimeout = flag.Duration("handshake-timeout", session.DefaultHandshakeTimeout, "Time allowed for the AI session to become ready")
		logLevel         = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Load from environment if flags not set
	if *port == "8080" {
		if p := os.Getenv("APP_PORT"); p != "" {
			*port = p
		} else if p := os.Getenv("PORT"); p != "" {
			*port = p
		}
	}
	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if *realtimeURL == realtime.DefaultURL {
		if u := os.Getenv("OPENAI_REALTIME_URL"); u != "" {
			*realtimeURL = u
		}
	}
	if *realtimeModel == realtime.DefaultModel {
		if m := os.Getenv("OPENAI_REALTIME_MODEL"); m != "" {
			*realtimeModel = m
		}
	}
	if *streamPath == "/twilio-stream" {
		if p := os.Getenv("STREAM_PATH"); p != "" {
			*streamPath = p
		}
	}
	if *publicStreamURL == "" {
		*publicStreamURL = os.Getenv("PUBLIC_STREAM_URL")
	}
	if *voice == "alloy" {
		if v := os.Getenv("AI_VOICE"); v != "" {
			*voice = v
		}
	}
	if *instructionsFile == "" {
		*instructionsFile = os.Getenv("AI_INSTRUCTIONS_FILE")
	}
	if *greeting == "" {
		*greeting = os.Getenv("AI_GREETING")
	}
	if *handshakeTimeout == session.DefaultHandshakeTimeout {
		if s := os.Getenv("HANDSHAKE_TIMEOUT"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid HANDSHAKE_TIMEOUT %q: %v\n", s, err)
				os.Exit(1)
			}
			*handshakeTimeout = d
		}
	}

	// Validate required configuration
	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: Missing required environment variables:\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY\n")
		os.Exit(1)
	}

	// Load log level from env if not set via flag
	if *logLevel == "info" {
		if ll := os.Getenv("LOG_LEVEL"); ll != "" {
			*logLevel = ll
		}
	}

	// Setup logging
	logger := setupLogger(*logLevel)

	if !strings.HasPrefix(*streamPath, "/") {
		*streamPath = "/" + *streamPath
	}

	var instructions string
	if *instructionsFile != "" {
		data, err := os.ReadFile(*instructionsFile)
		if err != nil {
			logger.Error("failed to read instructions file", "path", *instructionsFile, "error", err)
			os.Exit(1)
		}
		instructions = strings.TrimSpace(string(data))
	}

	logger.Info("starting voice bridge service",
		"port", *port,
		"stream_path", *streamPath,
		"realtime_url", *realtimeURL,
		"model", *realtimeModel,
		"voice", *voice,
		"api_key_prefix", keyPrefix(*apiKey))

	// Metrics on a private registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Create session manager
	sessionMgr := session.NewManager(session.ManagerConfig{
		RealtimeURL:      *realtimeURL,
		RealtimeModel:    *realtimeModel,
		APIKey:           *apiKey,
		Voice:            *voice,
		Instructions:     instructions,
		Greeting:         *greeting,
		HandshakeTimeout: *handshakeTimeout,
		Metrics:          m,
		Logger:           logger,
	})
	defer sessionMgr.Close()

	// Setup HTTP server
	mux := http.NewServeMux()

	// Media stream endpoint (Twilio connects here)
	mux.HandleFunc("GET "+*streamPath, sessionMgr.HandleMediaStream)

	// Voice webhook
	mux.Handle("POST /twiml", &twiml.Handler{
		StreamURL:  *publicStreamURL,
		StreamPath: *streamPath,
		Logger:     logger,
	})

	// Health check endpoints
	mux.HandleFunc("GET /healthz", sessionMgr.HandleHealth)
	mux.HandleFunc("GET /health", sessionMgr.HandleHealth)

	mux.HandleFunc("GET /api/v1/calls", sessionMgr.HandleListCalls)

	// Metrics endpoint
	mux.Handle("GET /metrics", metrics.Handler(reg))

	server := &http.Server{
		Addr:    ":" + *port,
		Handler: mux,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, gracefully shutting down")

	// Graceful shutdown. Hijacked media stream connections are not tracked by
	// the server; the session manager closes them.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("voice bridge service stopped")
}

// setupLogger creates a structured logger
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// keyPrefix returns enough of a credential to tell keys apart in logs
func keyPrefix(key string) string {
	if len(key) <= 10 {
		return strings.Repeat("*", len(key))
	}
	return key[:10] + "..."
}
