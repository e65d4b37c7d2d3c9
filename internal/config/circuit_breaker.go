package config

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker names, one per external dependency.
const (
	BreakerPaymentGateway = "Payment-Gateway"
	BreakerEmail          = "Email-SendGrid"
	BreakerRabbitMQ       = "RabbitMQ-Publisher"
)

// NewCircuitBreaker creates a circuit breaker with standard settings.
// The name uniquely identifies the breaker in logs.
func NewCircuitBreaker(name string, log *slog.Logger) *gobreaker.CircuitBreaker {
	var timeout time.Duration
	switch name {
	case BreakerPaymentGateway:
		timeout = 20 * time.Second
	default:
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}
