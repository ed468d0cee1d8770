// Anna - voice agent webhook server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/JasonGordonD/anna-agent-c/internal/api"
	"github.com/JasonGordonD/anna-agent-c/internal/calllog"
	"github.com/JasonGordonD/anna-agent-c/internal/config"
	"github.com/JasonGordonD/anna-agent-c/internal/dispatch"
	"github.com/JasonGordonD/anna-agent-c/internal/domain"
	"github.com/JasonGordonD/anna-agent-c/internal/knowledge"
	"github.com/JasonGordonD/anna-agent-c/internal/llm"
	"github.com/JasonGordonD/anna-agent-c/internal/middleware"
	"github.com/JasonGordonD/anna-agent-c/internal/room"
	"github.com/JasonGordonD/anna-agent-c/internal/speech"
	"github.com/JasonGordonD/anna-agent-c/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"memory_store", cfg.Store.Driver,
		"llm_provider", cfg.LLM.Provider,
		"tts_mode", cfg.TTS.Mode,
		"room_transport", cfg.Room.Transport,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize memory store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close memory store", "error", closeErr)
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Timeout.HealthCheck)
	if err := repo.Ping(pingCtx); err != nil {
		// Memory is best-effort; turns still run without history.
		slog.Warn("Memory store health check failed", "error", err)
	} else {
		slog.Info("Memory store connected")
	}
	cancelPing()

	generator, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize reply generator", "error", err)
		os.Exit(1)
	}

	callLog, err := calllog.New(calllog.Config{
		Enabled:       cfg.CallLog.Enabled,
		Dir:           cfg.CallLog.Dir,
		GlobalEnabled: cfg.CallLog.GlobalEnabled,
		GlobalPath:    cfg.CallLog.GlobalPath,
		QueueSize:     cfg.CallLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize call log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := callLog.Close(); closeErr != nil {
			slog.Error("Failed to close call log", "error", closeErr)
		}
	}()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Webhook.SecretHeader))

	speaker, closeSpeech, err := setupSpeech(ctx, cfg, r, logger)
	if err != nil {
		slog.Error("Failed to initialize speech", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeSpeech(); closeErr != nil {
			slog.Error("Failed to close audio transport", "error", closeErr)
		}
	}()

	dispatcher := dispatch.New(dispatch.Deps{
		Store:     repo,
		Generator: generator,
		Speaker:   speaker,
		Knowledge: knowledge.NewLoader(cfg.KnowledgeDir, logger),
		CallLog:   callLog,
		Logger:    logger,
	}, dispatch.Options{
		Greeting:       cfg.Greeting,
		DefaultSession: cfg.DefaultSession,
		MaxTurns:       cfg.Context.MaxTurns,
		TokenBudget:    cfg.Context.TokenBudget,
		Timeouts: dispatch.Timeouts{
			Fetch:    cfg.Timeout.Fetch,
			Append:   cfg.Timeout.Append,
			Generate: cfg.Timeout.Generate,
			Speak:    cfg.Timeout.Speak,
		},
	})

	queue := dispatch.NewQueue(cfg.Queue.Workers, cfg.Queue.Depth, func(ctx context.Context, ev domain.WebhookEvent) {
		dispatcher.Handle(ctx, ev)
	}, logger)
	queue.Start()

	// Initialize handlers.
	handler := api.NewHandler(queue, dispatcher, repo, api.Options{
		DefaultSession:     cfg.DefaultSession,
		MaxBodySize:        cfg.Webhook.MaxBodySize,
		HealthCheckTimeout: cfg.Timeout.HealthCheck,
		PublicURL:          cfg.PublicURL,
	}, logger)
	handler.RegisterRoutes(r, cfg.Webhook.Secret, cfg.Webhook.SecretHeader)
	if cfg.TTS.Mode == "managed" {
		handler.RegisterVoiceRoutes(r, cfg.TTS.TwilioAuthToken, speech.MediaStreamPath)
	}

	// Note: room listener sockets are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		slog.Error("Dispatch queue did not drain", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// setupSpeech builds the speaker selected by TTS_MODE and registers the
// audio routes it needs. The returned func releases the transport.
func setupSpeech(ctx context.Context, cfg *config.Config, r chi.Router, logger *slog.Logger) (dispatch.Speaker, func() error, error) {
	noClose := func() error { return nil }

	if !cfg.SpeechEnabled() {
		slog.Info("Speech disabled (TTS_MODE=off)")
		return speech.Nop{}, noClose, nil
	}

	if cfg.TTS.Mode == "managed" {
		managed, err := speech.NewManaged(speech.ManagedConfig{
			ElevenLabsAPIKey: cfg.TTS.ElevenLabsAPIKey,
			VoiceID:          cfg.TTS.ElevenLabsVoice,
			Model:            cfg.TTS.ElevenLabsModel,
			TwilioAccountSID: cfg.TTS.TwilioAccountSID,
			TwilioAuthToken:  cfg.TTS.TwilioAuthToken,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := managed.Start(ctx); err != nil {
			_ = managed.Close()
			return nil, nil, err
		}
		r.HandleFunc(speech.MediaStreamPath, managed.HandleMediaStream)
		slog.Info("Managed speech enabled", "media_stream", speech.MediaStreamPath)
		return managed, managed.Close, nil
	}

	cartesia := speech.CartesiaConfig{
		APIKey:     cfg.TTS.CartesiaAPIKey,
		VoiceID:    cfg.TTS.CartesiaVoiceID,
		Model:      cfg.TTS.CartesiaModel,
		Version:    cfg.TTS.CartesiaVersion,
		Encoding:   cfg.TTS.Encoding,
		SampleRate: cfg.TTS.SampleRate,
	}
	var synth speech.Synthesizer
	if cfg.TTS.Mode == "streaming" {
		synth = speech.NewStreaming(cartesia)
	} else {
		synth = speech.NewBuffered(cartesia, &http.Client{Timeout: cfg.Timeout.Speak})
	}

	var publisher interface {
		speech.Publisher
		Close() error
	}
	if cfg.Room.Transport == "livekit" {
		publisher = room.NewLiveKit(room.LiveKitConfig{
			URL:            cfg.Room.LiveKitURL,
			APIKey:         cfg.Room.LiveKitAPIKey,
			APISecret:      cfg.Room.LiveKitAPISecret,
			RoomPrefix:     cfg.Room.LiveKitRoomPrefix,
			Identity:       cfg.Room.LiveKitIdentity,
			FrameDuration:  cfg.Room.FrameDuration,
			ConnectTimeout: cfg.Timeout.RoomConnect,
		}, logger)
	} else {
		hub := room.NewHub(cfg.AllowedOrigins, logger)
		r.With(middleware.RequireSecret(cfg.Webhook.Secret, cfg.Webhook.SecretHeader, "token")).
			Get("/ws/room", hub.ServeHTTP)
		publisher = hub
	}

	slog.Info("Speech enabled", "tts_mode", cfg.TTS.Mode, "room_transport", cfg.Room.Transport)
	return speech.NewStreamer(synth, publisher, logger), publisher.Close, nil
}
