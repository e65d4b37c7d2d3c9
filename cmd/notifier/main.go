// cmd/notifier consumes queued notifications from RabbitMQ and delivers
// them over email, SMS and the in-app inbox.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shivanand-hulikatti/school-events/internal/app"
	"github.com/Shivanand-hulikatti/school-events/internal/config"
	"github.com/Shivanand-hulikatti/school-events/internal/messaging"
)

func main() {
	cfg := config.MustLoad()
	log := cfg.NewLogger()

	if cfg.RabbitMQ.URL == "" {
		log.Error("the notifier needs RABBITMQ_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer core.Close()

	consumer := messaging.NewConsumer(core.Broker, core.Dispatcher,
		cfg.RabbitMQ.MaxAttempts, cfg.RabbitMQ.Prefetch, cfg.Notifications.DispatchTimeout, log)
	if err := consumer.Run(ctx); err != nil {
		log.Error("notifier stopped", slog.String("error", err.Error()))
		return
	}
	log.Info("notifier stopped")
}
