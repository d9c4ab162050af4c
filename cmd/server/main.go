// Agribot - farming assistant chat server
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

	"github.com/ashureev/agribot/internal/api"
	"github.com/ashureev/agribot/internal/app"
	"github.com/ashureev/agribot/internal/chatws"
	"github.com/ashureev/agribot/internal/config"
	"github.com/ashureev/agribot/internal/identity"
	"github.com/ashureev/agribot/internal/middleware"
	"github.com/ashureev/agribot/internal/ops"
	"github.com/ashureev/agribot/internal/session"
	"github.com/ashureev/agribot/internal/store"
	"github.com/ashureev/agribot/internal/telegram"
	"github.com/ashureev/agribot/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation core", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := core.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := core.Store.Ping(ctx); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected")

	// Initialize handlers.
	registry := chatws.NewRegistry()
	baseHandler := api.NewHandler(core.Store, core.Sessions, cfg)
	chatHandler := api.NewChatHandler(baseHandler, core.Dispatcher)
	defer chatHandler.Close()
	chatHandler.SetLogoutHook(func(sessionID string) {
		registry.Notify(sessionID, chatws.Frame{Type: chatws.FrameReset})
	})
	wsHandler := chatws.NewHandler(core.Dispatcher, core.Sessions, registry, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	baseHandler.RegisterHealthRoutes(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Embedded chat page.
	r.Handle("/*", web.Handler())

	// POST /api/chat clears its own write deadline, so this bounds the
	// other routes only.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker. Redis expires keys itself.
	if store.Driver(cfg.Store.Driver) != store.DriverRedis {
		session.StartTTLWorker(ctx, core.Store, cfg.Store.SessionTTL, cfg.Store.SweepInterval)
		slog.Info("TTL worker started", "session_ttl", cfg.Store.SessionTTL)
	}

	if cfg.GRPCHealthAddr != "" {
		if _, err := ops.Start(ctx, cfg.GRPCHealthAddr, core.Store, 0, logger.With("component", "ops")); err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			os.Exit(1)
		}
	}

	botDone := make(chan struct{})
	if cfg.TelegramToken != "" {
		bot, err := telegram.New(cfg.TelegramToken, core.Dispatcher, core.Sessions, logger.With("component", "telegram"))
		if err != nil {
			slog.Error("Failed to start telegram bot", "error", err)
			os.Exit(1)
		}
		go func() {
			defer close(botDone)
			if err := bot.Run(ctx); err != nil {
				slog.Error("Telegram bot stopped", "error", err)
			}
		}()
	} else {
		close(botDone)
		slog.Info("Telegram bot disabled (TELEGRAM not set)")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ChatTimeout+5*time.Second)
	defer cancel()

	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		slog.Warn("Telegram bot did not stop before shutdown deadline")
	}

	slog.Info("Server stopped successfully")
}

// allowedOrigins lists the browser origins allowed to call the API from
// another host. Development builds accept any origin without credentials.
func allowedOrigins(cfg *config.Config) []string {
	origins := []string{cfg.FrontendURL}
	if cfg.IsDevelopment() {
		origins = append(origins, "*")
	}
	return origins
}
