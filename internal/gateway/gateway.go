// Package gateway contains payment gateway adapters. Every adapter answers
// the same three calls: create an intent, retrieve its capture status and
// refund it.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// Status is the provider-side state of a payment intent.
type Status string

const (
	StatusSucceeded             Status = "succeeded"
	StatusProcessing            Status = "processing"
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresAction        Status = "requires_action"
	StatusCanceled              Status = "canceled"
)

// ErrUnavailable is returned while the breaker refuses calls.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Intent is the handle returned when a payment is opened.
type Intent struct {
	Reference    string
	ClientHandle string
}

// Capture is the result of retrieving an intent.
type Capture struct {
	Status         Status
	CapturedAmount model.Cents
}

// Refund is the result of a refund call.
type Refund struct {
	ID string
}

// execute runs fn through the breaker, translating breaker refusals into
// ErrUnavailable and keeping context errors intact.
func execute[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return zero, err
	}
	return out.(T), nil
}
