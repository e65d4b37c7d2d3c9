package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SimulatedSMS logs messages instead of handing them to a carrier. It still
// reports a per-message cost so the audit trail matches a real provider.
type SimulatedSMS struct {
	from  string
	cost  float64
	delay time.Duration
	log   *slog.Logger
}

func NewSimulatedSMS(from string, costPerMessage float64, delay time.Duration, log *slog.Logger) *SimulatedSMS {
	return &SimulatedSMS{from: from, cost: costPerMessage, delay: delay, log: log}
}

func (s *SimulatedSMS) Send(ctx context.Context, toPhone, text string) Result {
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return failure(ctx.Err().Error())
		case <-t.C:
		}
	}
	s.log.Info("sms sent (simulated)",
		slog.String("from", s.from),
		slog.String("to", toPhone),
		slog.Int("length", len(text)))
	return Result{Success: true, MessageID: "simsms_" + uuid.NewString(), Cost: s.cost}
}
