package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// Simulated stands in when no real gateway is configured. Every intent is
// reported as captured and every refund succeeds. Refunds honour the
// idempotency key the way Stripe does.
type Simulated struct {
	mu      sync.Mutex
	intents map[string]model.Cents
	refunds map[string]Refund
}

func NewSimulated() *Simulated {
	return &Simulated{
		intents: make(map[string]model.Cents),
		refunds: make(map[string]Refund),
	}
}

func (s *Simulated) Simulated() bool { return true }

func (s *Simulated) CreateIntent(ctx context.Context, amount model.Cents, currency string, metadata map[string]string) (Intent, error) {
	ref := "sim_" + uuid.NewString()
	s.mu.Lock()
	s.intents[ref] = amount
	s.mu.Unlock()
	return Intent{Reference: ref}, nil
}

func (s *Simulated) RetrieveIntent(ctx context.Context, reference string) (Capture, error) {
	s.mu.Lock()
	amount := s.intents[reference]
	s.mu.Unlock()
	return Capture{Status: StatusSucceeded, CapturedAmount: amount}, nil
}

func (s *Simulated) Refund(ctx context.Context, reference string, amount model.Cents, idempotencyKey string) (Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.refunds[idempotencyKey]; ok && idempotencyKey != "" {
		return r, nil
	}
	r := Refund{ID: "simre_" + uuid.NewString()}
	if idempotencyKey != "" {
		s.refunds[idempotencyKey] = r
	}
	return r, nil
}
