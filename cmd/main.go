// cmd/main.go is the API entry point.
// It wires together all layers and starts the HTTP server.
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

	"github.com/Shivanand-hulikatti/school-events/internal/app"
	"github.com/Shivanand-hulikatti/school-events/internal/config"
	"github.com/Shivanand-hulikatti/school-events/internal/handler"
)

func main() {
	cfg := config.MustLoad()
	log := cfg.NewLogger()
	ctx := context.Background()

	// ── 1. Connect backends and build services ───────────────────────────
	core, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer core.Close()

	// ── 2. Wire up the HTTP layer ────────────────────────────────────────
	tokens := handler.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	h := handler.New(core.Registrations, core.Payments, core.Guard, tokens, cfg.Payment.WebhookSecret, log)

	var health *handler.HealthHandler
	if core.Redis != nil {
		health = handler.NewHealthHandler(core.Pool, core.Redis, os.Getenv("APP_VERSION"))
	} else {
		health = handler.NewHealthHandler(core.Pool, nil, os.Getenv("APP_VERSION"))
	}
	router := handler.NewRouter(h, health, core.Metrics.Handler(), cfg.HTTPServer.AllowedOrigins, log)

	// ── 3. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         cfg.HTTPServer.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Info("server listening", slog.String("address", cfg.HTTPServer.Addr), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
		return
	}
	log.Info("server stopped")
}
