// ChatXAI - streaming chat server
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

	"github.com/ashureev/chatxai/internal/agent"
	"github.com/ashureev/chatxai/internal/api"
	"github.com/ashureev/chatxai/internal/config"
	"github.com/ashureev/chatxai/internal/identity"
	"github.com/ashureev/chatxai/internal/live"
	"github.com/ashureev/chatxai/internal/middleware"
	"github.com/ashureev/chatxai/internal/modules"
	"github.com/ashureev/chatxai/internal/session"
	"github.com/ashureev/chatxai/internal/store"
	"github.com/ashureev/chatxai/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected")

	registry, err := modules.FromConfig(cfg.ModulesFile, cfg.DefaultModule)
	if err != nil {
		return err
	}
	slog.Info("Module catalog loaded", "modules", registry.Len(), "default", registry.Default().ID, "file", cfg.ModulesFile)

	var processor agent.Processor
	aiEnabled := false
	if cfg.Gemini.Enabled() {
		gemini, err := agent.NewGeminiClient(ctx, agent.GeminiClientConfig{
			APIKey:        cfg.Gemini.APIKey,
			BaseURL:       cfg.Gemini.BaseURL,
			StreamTimeout: cfg.Gemini.StreamTimeout,
		}, logger)
		if err != nil {
			slog.Warn("Failed to initialize Gemini client, AI features will be disabled", "error", err)
		} else {
			processor = gemini
			aiEnabled = true
		}
	}
	if !aiEnabled {
		slog.Info("AI features disabled (GEMINI_API_KEY not set or client failed)")
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	mgr := session.NewManager(session.Config{
		Processor: processor,
		Registry:  registry,
		Recorder:  repo,
		ConvLog:   conversationLogger,
		Logger:    logger,
	})
	defer mgr.Close()

	limiter := api.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	defer limiter.Close()

	liveRegistry := live.NewRegistry()
	defer liveRegistry.CloseAll()

	// Initialize handlers.
	baseHandler := api.NewHandler(mgr, repo, aiEnabled)
	chatHandler := api.NewChatHandler(baseHandler, limiter, api.ChatOptions{
		MaxUploadBytes:    cfg.MaxUploadBytes,
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		EventBuffer:       cfg.SSE.EventBuffer,
	})
	healthHandler := api.NewHealthHandler(repo, aiEnabled)
	wsHandler := live.NewWebSocketHandler(mgr, liveRegistry, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else carries an anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE connections require long timeouts (no WriteTimeout); keepalive
	// pings hold them open.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		session.StartSweeper(gctx, mgr, repo, session.SweepConfig{
			Interval:  cfg.SweepInterval,
			IdleTTL:   cfg.SessionTTL,
			Retention: cfg.TurnRetention,
		})
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		// Close streams first so Shutdown does not wait on them.
		mgr.Close()
		liveRegistry.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
