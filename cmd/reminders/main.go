// cmd/reminders runs the payment and event reminder sweeps once and exits.
// Schedule it with cron or a Kubernetes CronJob. With Redis configured, a
// lease keeps overlapping runs from reminding anyone twice.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shivanand-hulikatti/school-events/internal/app"
	"github.com/Shivanand-hulikatti/school-events/internal/config"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

const lockKey = "school-events:reminders:lock"

func main() {
	var (
		payments = flag.Bool("payments", true, "send overdue payment reminders")
		events   = flag.Bool("events", true, "send upcoming event reminders")
	)
	cfg := config.MustLoad()
	if !flag.Parsed() {
		flag.Parse()
	}
	log := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer core.Close()

	if core.Redis != nil {
		lock, err := app.AcquireLock(ctx, core.Redis, lockKey, cfg.Reminders.LockTTL)
		if errors.Is(err, app.ErrLockHeld) {
			log.Info("another reminder run is in progress, skipping")
			return
		}
		if err != nil {
			log.Error("acquire reminder lock", slog.String("error", err.Error()))
			return
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				log.Warn("release reminder lock", slog.String("error", err.Error()))
			}
		}()
	}

	if *payments {
		res, err := core.Payments.SendOverduePaymentReminders(ctx)
		report(log, "payment", res, err)
	}
	if *events {
		res, err := core.Registrations.SendEventReminders(ctx, cfg.Reminders.EventWindow)
		report(log, "event", res, err)
	}
}

func report(log *slog.Logger, sweep string, res *model.SweepResult, err error) {
	if err != nil {
		log.Error("reminder sweep failed", slog.String("sweep", sweep), slog.String("error", err.Error()))
		return
	}
	failed := 0
	for _, o := range res.Outcomes {
		if !o.Success {
			failed++
			log.Warn("reminder not delivered",
				slog.String("sweep", sweep),
				slog.String("registration_id", o.RegistrationID),
				slog.String("error", o.Error))
		}
	}
	log.Info("reminder sweep finished",
		slog.String("sweep", sweep),
		slog.Int("matched", res.Matched),
		slog.Int("sent", len(res.Outcomes)-failed),
		slog.Int("failed", failed))
}
