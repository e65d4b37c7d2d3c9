package gateway

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// Stripe talks to the Stripe PaymentIntents API.
type Stripe struct {
	api *client.API
	cb  *gobreaker.CircuitBreaker
}

func NewStripe(secretKey string, cb *gobreaker.CircuitBreaker) *Stripe {
	return &Stripe{api: client.New(secretKey, nil), cb: cb}
}

func (s *Stripe) Simulated() bool { return false }

func (s *Stripe) CreateIntent(ctx context.Context, amount model.Cents, currency string, metadata map[string]string) (Intent, error) {
	return execute(ctx, s.cb, func() (Intent, error) {
		params := &stripe.PaymentIntentParams{
			Params:   stripe.Params{Context: ctx},
			Amount:   stripe.Int64(int64(amount)),
			Currency: stripe.String(currency),
		}
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		pi, err := s.api.PaymentIntents.New(params)
		if err != nil {
			return Intent{}, fmt.Errorf("stripe create intent: %w", err)
		}
		return Intent{Reference: pi.ID, ClientHandle: pi.ClientSecret}, nil
	})
}

func (s *Stripe) RetrieveIntent(ctx context.Context, reference string) (Capture, error) {
	return execute(ctx, s.cb, func() (Capture, error) {
		pi, err := s.api.PaymentIntents.Get(reference, &stripe.PaymentIntentParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return Capture{}, fmt.Errorf("stripe retrieve intent: %w", err)
		}
		return Capture{Status: Status(pi.Status), CapturedAmount: model.Cents(pi.AmountReceived)}, nil
	})
}

// Refund refunds amount of the intent. Stripe replays the first result for a
// repeated idempotency key instead of refunding again.
func (s *Stripe) Refund(ctx context.Context, reference string, amount model.Cents, idempotencyKey string) (Refund, error) {
	return execute(ctx, s.cb, func() (Refund, error) {
		params := stripe.Params{Context: ctx}
		if idempotencyKey != "" {
			params.IdempotencyKey = stripe.String(idempotencyKey)
		}
		r, err := s.api.Refunds.New(&stripe.RefundParams{
			Params:        params,
			PaymentIntent: stripe.String(reference),
			Amount:        stripe.Int64(int64(amount)),
			Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		})
		if err != nil {
			return Refund{}, fmt.Errorf("stripe refund: %w", err)
		}
		return Refund{ID: r.ID}, nil
	})
}
