package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/school-events/internal/config"
)

func TestSimulated_CapturesWhatWasOpened(t *testing.T) {
	g := NewSimulated()
	ctx := context.Background()

	intent, err := g.CreateIntent(ctx, 1250, "usd", map[string]string{"registration_id": "r1"})
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	if intent.Reference == "" {
		t.Fatal("expected a reference")
	}

	capture, err := g.RetrieveIntent(ctx, intent.Reference)
	if err != nil {
		t.Fatalf("RetrieveIntent() error = %v", err)
	}
	if capture.Status != StatusSucceeded || capture.CapturedAmount != 1250 {
		t.Errorf("capture = %+v, want succeeded/1250", capture)
	}

	refund, err := g.Refund(ctx, intent.Reference, 500, "refund:p1")
	if err != nil || refund.ID == "" {
		t.Errorf("Refund() = %+v, %v", refund, err)
	}
}

func TestSimulated_RefundReplaysIdempotencyKey(t *testing.T) {
	g := NewSimulated()
	ctx := context.Background()

	first, err := g.Refund(ctx, "sim_1", 500, "refund:p1")
	if err != nil {
		t.Fatal(err)
	}
	again, err := g.Refund(ctx, "sim_1", 500, "refund:p1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Errorf("repeated key refund id = %q, want %q", again.ID, first.ID)
	}

	other, err := g.Refund(ctx, "sim_2", 500, "refund:p2")
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == first.ID {
		t.Error("a different key must issue a new refund")
	}
}

func TestExecute_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := config.NewCircuitBreaker(config.BreakerPaymentGateway, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := execute(ctx, cb, func() (Capture, error) { return Capture{}, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("call %d: error = %v, want boom", i, err)
		}
	}

	_, err := execute(ctx, cb, func() (Capture, error) { return Capture{Status: StatusSucceeded}, nil })
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestExecute_KeepsDeadlineExceeded(t *testing.T) {
	cb := config.NewCircuitBreaker(config.BreakerPaymentGateway, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := execute(ctx, cb, func() (Capture, error) {
		<-ctx.Done()
		return Capture{}, errors.New("request canceled")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}
