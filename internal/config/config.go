// Package config loads application configuration from a YAML file with
// environment variable overrides.
//
// The file path comes from CONFIG_PATH or, failing that, the --config flag.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration structure.
type Config struct {
	// Env selects log format and verbosity: "dev", "staging" or "prod".
	Env string `yaml:"env" env:"ENV" env-default:"dev"`

	HTTPServer    HTTPServer    `yaml:"http_server"`
	Database      Database      `yaml:"database"`
	Redis         Redis         `yaml:"redis"`
	RabbitMQ      RabbitMQ      `yaml:"rabbitmq"`
	Auth          Auth          `yaml:"auth"`
	Security      Security      `yaml:"security"`
	Payment       Payment       `yaml:"payment"`
	Email         Email         `yaml:"email"`
	SMS           SMS           `yaml:"sms"`
	Notifications Notifications `yaml:"notifications"`
	Reminders     Reminders     `yaml:"reminders"`
}

type HTTPServer struct {
	Addr         string        `yaml:"address" env:"HTTP_SERVER_ADDR" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

type Database struct {
	URL      string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
	MaxConns int32  `yaml:"max_conns" env-default:"20"`
	MinConns int32  `yaml:"min_conns" env-default:"2"`
}

type Redis struct {
	Addr     string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RabbitMQ is optional; when URL is empty notifications are dispatched in-process.
type RabbitMQ struct {
	URL   string `yaml:"url" env:"RABBITMQ_URL"`
	Queue string `yaml:"queue" env:"NOTIFICATION_QUEUE" env-default:"notifications"`
	// MaxAttempts bounds redelivery of a job whose every channel failed.
	MaxAttempts int `yaml:"max_attempts" env-default:"3"`
	Prefetch    int `yaml:"prefetch" env-default:"10"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	JWTTTL    time.Duration `yaml:"jwt_ttl" env:"JWT_TTL" env-default:"24h"`
}

type Security struct {
	MaxLoginAttempts int           `yaml:"max_login_attempts" env-default:"5"`
	Lockout          time.Duration `yaml:"lockout" env-default:"15m"`
	ResetTokenTTL    time.Duration `yaml:"reset_token_ttl" env-default:"1h"`
	BcryptCost       int           `yaml:"bcrypt_cost" env-default:"12"`
}

// Payment configures the gateway. An empty StripeSecretKey selects the
// simulated gateway.
type Payment struct {
	StripeSecretKey string        `yaml:"stripe_secret_key" env:"STRIPE_SECRET_KEY"`
	Currency        string        `yaml:"currency" env:"PAYMENT_CURRENCY" env-default:"usd"`
	GatewayTimeout  time.Duration `yaml:"gateway_timeout" env-default:"10s"`
	// WebhookSecret must match the X-Webhook-Secret header of gateway
	// callbacks. It is required once a Stripe key is set.
	WebhookSecret string `yaml:"webhook_secret" env:"PAYMENT_WEBHOOK_SECRET"`
}

type Email struct {
	Enabled        bool   `yaml:"enabled" env:"EMAIL_ENABLED" env-default:"true"`
	SendGridAPIKey string `yaml:"sendgrid_api_key" env:"SENDGRID_API_KEY"`
	FromAddress    string `yaml:"from_address" env:"EMAIL_FROM" env-default:"noreply@localhost"`
	FromName       string `yaml:"from_name" env-default:"School Events"`
	AppURL         string `yaml:"app_url" env:"APP_URL" env-default:"http://localhost:8080"`
}

type SMS struct {
	Enabled        bool          `yaml:"enabled" env:"SMS_ENABLED" env-default:"true"`
	FromNumber     string        `yaml:"from_number" env:"SMS_FROM_NUMBER" env-default:"+1234567890"`
	CostPerMessage float64       `yaml:"cost_per_message" env-default:"0.05"`
	SendDelay      time.Duration `yaml:"send_delay" env-default:"0s"`
}

// Notifications controls in-process delivery. Async only applies when no
// RabbitMQ URL is configured.
type Notifications struct {
	Async           bool          `yaml:"async" env:"NOTIFICATIONS_ASYNC" env-default:"true"`
	BulkDelay       time.Duration `yaml:"bulk_delay" env-default:"300ms"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout" env-default:"30s"`
}

// Reminders configures the sweep process.
type Reminders struct {
	EventWindow time.Duration `yaml:"event_window" env-default:"24h"`
	// LockTTL bounds how long one sweep may hold the Redis lock.
	LockTTL time.Duration `yaml:"lock_ttl" env-default:"10m"`
}

// MustLoad reads and validates the configuration or exits the process.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		flags := flag.String("config", "", "path to the configuration YAML file")
		flag.Parse()
		configPath = *flags
	}

	cfg, err := Load(configPath)
	if err != nil {
		slog.Error("cannot load config", slog.String("path", configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	return cfg
}

// Load reads path (if non-empty) and then the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Payment.StripeSecretKey != "" && c.Payment.WebhookSecret == "" {
		return errors.New("payment.webhook_secret is required when a Stripe key is configured")
	}
	return nil
}

// NewLogger builds the process logger for the configured environment.
func (c *Config) NewLogger() *slog.Logger {
	switch c.Env {
	case "prod", "staging":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
