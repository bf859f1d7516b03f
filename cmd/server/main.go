// ClawNest - managed AI agent hosting control panel
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

	"github.com/ashureev/clawnest/internal/api"
	"github.com/ashureev/clawnest/internal/bridge"
	"github.com/ashureev/clawnest/internal/chat"
	"github.com/ashureev/clawnest/internal/completion"
	"github.com/ashureev/clawnest/internal/config"
	"github.com/ashureev/clawnest/internal/conversation"
	"github.com/ashureev/clawnest/internal/domain"
	"github.com/ashureev/clawnest/internal/identity"
	"github.com/ashureev/clawnest/internal/lifecycle"
	"github.com/ashureev/clawnest/internal/livechat"
	"github.com/ashureev/clawnest/internal/middleware"
	"github.com/ashureev/clawnest/internal/store"
	"github.com/ashureev/clawnest/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	if cfg.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY not set, chat requests will fail")
	}
	llm := completion.NewClient(cfg.LLM.APIKey,
		completion.WithBaseURL(cfg.LLM.BaseURL),
		completion.WithModel(cfg.LLM.Model),
		completion.WithTimeout(cfg.LLM.Timeout),
		completion.WithLogger(logger),
	)
	history := conversation.NewStore()
	chatSvc := chat.NewService(history, llm, logger)

	var dialers []bridge.ManagerOption
	if cfg.Bridges.TelegramEnabled {
		dialers = append(dialers, bridge.WithDialer(domain.PlatformTelegram, bridge.TelegramDialer{Endpoint: cfg.Bridges.TelegramEndpoint}))
	}
	if cfg.Bridges.MatrixEnabled {
		dialers = append(dialers, bridge.WithDialer(domain.PlatformMatrix, bridge.MatrixDialer{}))
	}
	bridges := bridge.NewManager(chatSvc, logger, dialers...)
	sm := livechat.NewSessionManager()
	coordinator := lifecycle.NewCoordinator(bridges, chatSvc, sm, logger)
	tokens := identity.NewTokens([]byte(cfg.JWTSecret), cfg.SessionTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Restore bridges for agents that were running before the restart.
	running, err := repo.ListRunningAgents(ctx)
	if err != nil {
		slog.Error("Failed to list running agents", "error", err)
		os.Exit(1)
	}
	active, err := coordinator.Restore(ctx, running, cfg.Bridges.RestoreConcurrency)
	if err != nil {
		slog.Warn("Bridge restore interrupted", "error", err)
	}
	slog.Info("Bridges restored", "running_agents", len(running), "active_bridges", active)

	conversation.StartIdleSweeper(ctx, history, cfg.Support.SweepInterval, cfg.Support.IdleTTL, logger)
	slog.Info("Support sweeper started", "idle_ttl", cfg.Support.IdleTTL)

	chatLimiter := middleware.NewRateLimiter(cfg.ChatLimit.PerMinute, cfg.ChatLimit.Burst)
	chatLimiter.StartEviction(ctx, time.Minute)

	// Initialize handlers.
	authHandler := api.NewAuthHandler(repo, tokens, cfg.IsDevelopment())
	agentsHandler := api.NewAgentsHandler(repo, coordinator, bridges, chatSvc)
	supportHandler := api.NewSupportHandler(chatSvc)
	healthHandler := api.NewHealthHandler(repo, bridges, history)
	wsHandler := livechat.NewWebSocketHandler(repo, chatSvc, sm, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterRoutes(r)
	authHandler.RegisterRoutes(r)
	supportHandler.RegisterRoutes(r, chatLimiter.Middleware)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser(tokens))
		agentsHandler.RegisterRoutes(r, chatLimiter.Middleware)
		r.Get("/api/agents/{id}/ws", wsHandler.ServeHTTP)
	})

	if cfg.StaticDir != "" {
		r.Handle("/*", web.SPAHandler(os.DirFS(cfg.StaticDir)))
		slog.Info("Serving dashboard", "dir", cfg.StaticDir)
	}

	// Note: chat requests may wait on the model for up to LLM_TIMEOUT, and
	// live chat sockets are long-lived (no WriteTimeout).
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	sm.CloseAll()
	bridges.StopAll()

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
