// Package app wires configuration into the services shared by the processes
// under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/school-events/internal/config"
	"github.com/Shivanand-hulikatti/school-events/internal/database"
	"github.com/Shivanand-hulikatti/school-events/internal/gateway"
	"github.com/Shivanand-hulikatti/school-events/internal/messaging"
	"github.com/Shivanand-hulikatti/school-events/internal/metrics"
	"github.com/Shivanand-hulikatti/school-events/internal/repository"
	"github.com/Shivanand-hulikatti/school-events/internal/service"
	"github.com/Shivanand-hulikatti/school-events/internal/transport"
)

// Core is every long-lived dependency of a process.
type Core struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client     // nil when not configured
	Broker  *messaging.Broker // nil when not configured
	Metrics *metrics.Metrics

	Dispatcher    *service.Dispatcher
	Notifier      service.Notifier
	Registrations *service.RegistrationManager
	Payments      *service.PaymentOrchestrator
	Guard         *service.SecurityGuard

	async *service.AsyncNotifier
	log   *slog.Logger
}

// Build connects to every configured backend, applies the schema and
// constructs the services.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Core, error) {
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("connected to PostgreSQL")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c := &Core{Pool: pool, Metrics: metrics.New(reg), log: log}

	if cfg.Redis.Addr != "" {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		log.Info("connected to Redis", slog.String("address", cfg.Redis.Addr))
	}

	regRepo := repository.NewRegistrationRepository(pool)
	payRepo := repository.NewPaymentRepository(pool)
	accRepo := repository.NewAccountRepository(pool)
	noteRepo := repository.NewNotificationRepository(pool)

	email := emailSender(cfg, log)
	c.Dispatcher = service.NewDispatcher(email, smsSender(cfg, log), noteRepo, cfg.Email.AppURL,
		cfg.Notifications.BulkDelay, c.Metrics, log)

	switch {
	case cfg.RabbitMQ.URL != "":
		c.Broker, err = messaging.NewBroker(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		c.Notifier = c.Broker
		log.Info("notifications queued on RabbitMQ", slog.String("queue", cfg.RabbitMQ.Queue))
	case cfg.Notifications.Async:
		c.async = service.NewAsyncNotifier(c.Dispatcher, cfg.Notifications.DispatchTimeout, log)
		c.Notifier = c.async
	default:
		c.Notifier = c.Dispatcher
	}

	c.Payments = service.NewPaymentOrchestrator(payRepo, regRepo, paymentGateway(cfg, log), c.Notifier,
		cfg.Payment.Currency, cfg.Payment.GatewayTimeout, cfg.Notifications.BulkDelay, c.Metrics, log)
	c.Registrations = service.NewRegistrationManager(regRepo, accRepo, c.Payments, c.Notifier,
		cfg.Notifications.BulkDelay, c.Metrics, log)
	c.Guard = service.NewSecurityGuard(accRepo, email, cfg.Security, cfg.Email.AppURL, c.Metrics, log)

	return c, nil
}

// Close waits for in-flight notifications and releases every connection.
func (c *Core) Close() {
	if c.async != nil {
		c.async.Wait()
	}
	if c.Broker != nil {
		if err := c.Broker.Close(); err != nil {
			c.log.Warn("close rabbitmq", slog.String("error", err.Error()))
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	c.Pool.Close()
}

func paymentGateway(cfg *config.Config, log *slog.Logger) service.PaymentGateway {
	if cfg.Payment.StripeSecretKey == "" {
		log.Warn("no Stripe key configured, using the simulated payment gateway")
		return gateway.NewSimulated()
	}
	return gateway.NewStripe(cfg.Payment.StripeSecretKey, config.NewCircuitBreaker(config.BreakerPaymentGateway, log))
}

// emailSender returns nil when email is switched off, which disables the
// channel. A missing API key yields a sender that reports every send as
// failed.
func emailSender(cfg *config.Config, log *slog.Logger) service.EmailSender {
	switch {
	case !cfg.Email.Enabled:
		return nil
	case cfg.Email.SendGridAPIKey == "":
		log.Warn("no SendGrid key configured, email sends will fail")
		return transport.UnconfiguredEmail{}
	}
	return transport.NewSendGrid(cfg.Email.SendGridAPIKey, cfg.Email.FromName, cfg.Email.FromAddress,
		config.NewCircuitBreaker(config.BreakerEmail, log))
}

func smsSender(cfg *config.Config, log *slog.Logger) service.SMSSender {
	if !cfg.SMS.Enabled {
		return nil
	}
	return transport.NewSimulatedSMS(cfg.SMS.FromNumber, cfg.SMS.CostPerMessage, cfg.SMS.SendDelay, log)
}
