// Unplug - digital-detox challenge server
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
	"github.com/unplugd/unplug/internal/api"
	"github.com/unplugd/unplug/internal/config"
	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/identity"
	"github.com/unplugd/unplug/internal/lifecycle"
	"github.com/unplugd/unplug/internal/middleware"
	"github.com/unplugd/unplug/internal/monitor"
	"github.com/unplugd/unplug/internal/store"
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

	if err := seedCatalog(context.Background(), repo); err != nil {
		slog.Error("Failed to seed challenge catalog", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	svc := lifecycle.NewService(repo, cfg)
	registry := monitor.NewRegistry()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, svc)
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo)
	gatewayHandler := monitor.NewGatewayHandler(repo, svc, registry, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoint for the elapsed-time monitor.
	r.Get("/ws/monitor", gatewayHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // monitor connections stay open for the session duration
		IdleTimeout:  120 * time.Second,
	}

	// Start expiry sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lifecycle.StartExpirySweeper(ctx, repo, cfg.SweepInterval, cfg.SessionGracePeriod)

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
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// seedCatalog provisions the starter templates when the catalog collaborator
// has not supplied any yet.
func seedCatalog(ctx context.Context, repo store.Repository) error {
	templates, err := repo.ListActiveTemplates(ctx)
	if err != nil {
		return err
	}
	if len(templates) > 0 {
		return nil
	}

	for _, tmpl := range domain.DefaultTemplates() {
		if err := repo.UpsertTemplate(ctx, tmpl); err != nil {
			return err
		}
	}
	slog.Info("Seeded default challenge catalog")
	return nil
}
