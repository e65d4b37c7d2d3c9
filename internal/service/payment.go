package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/school-events/internal/gateway"
	"github.com/Shivanand-hulikatti/school-events/internal/metrics"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// PaymentOrchestrator owns Payment rows and the payment status of
// registrations. It keeps them consistent with what the gateway reports.
//
// Gateway errors never move a payment: a timeout or outage leaves it pending
// so it can be retried or reconciled later. Only an explicit rejection marks
// it failed.
type PaymentOrchestrator struct {
	payments  PaymentStore
	regs      RegistrationReader
	gateway   PaymentGateway
	notify    Notifier
	currency  string
	timeout   time.Duration
	bulkDelay time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

func NewPaymentOrchestrator(
	payments PaymentStore,
	regs RegistrationReader,
	gw PaymentGateway,
	notify Notifier,
	currency string,
	gatewayTimeout time.Duration,
	bulkDelay time.Duration,
	m *metrics.Metrics,
	log *slog.Logger,
) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		payments:  payments,
		regs:      regs,
		gateway:   gw,
		notify:    notify,
		currency:  currency,
		timeout:   gatewayTimeout,
		bulkDelay: bulkDelay,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// OpenPayment creates the payment for reg.PaymentAmount. A zero amount is
// stored as completed, together with the registration's paid status, without
// contacting the gateway. Otherwise a pending payment is stored, a gateway
// intent is requested and its handle is returned as a Checkout.
//
// When the intent cannot be created the pending payment is still returned
// together with the error, so the caller can retry the checkout later.
func (o *PaymentOrchestrator) OpenPayment(ctx context.Context, reg *model.Registration) (*model.Payment, *model.Checkout, error) {
	if reg.PaymentAmount < 0 {
		return nil, nil, model.Validation("payment amount cannot be negative")
	}

	now := o.now().UTC()
	p := &model.Payment{
		RegistrationID: reg.ID,
		Amount:         reg.PaymentAmount,
		Currency:       o.currency,
		Status:         model.PaymentPending,
		CreatedAt:      now,
	}

	if p.Amount == 0 {
		p.Status = model.PaymentCompleted
		p.ProcessedAt = &now
		p.GatewayResponse = map[string]any{"fee_waived": true}
		if err := o.payments.CreatePayment(ctx, p, model.PaymentStatePaid); err != nil {
			return nil, nil, fmt.Errorf("create payment: %w", err)
		}
		o.metrics.PaymentTransition(string(model.PaymentPending), string(model.PaymentCompleted))
		reg.PaymentStatus = model.PaymentStatePaid
		return p, nil, nil
	}

	if err := o.payments.CreatePayment(ctx, p, ""); err != nil {
		return nil, nil, fmt.Errorf("create payment: %w", err)
	}
	checkout, err := o.requestIntent(ctx, p)
	if err != nil {
		return p, nil, err
	}
	return p, checkout, nil
}

// RetryCheckout gets a registration that still owes its fee back to a
// payable state. A pending payment whose intent could not be created gets a
// new intent. When the last payment was rejected, or none exists, a fresh
// payment is opened.
func (o *PaymentOrchestrator) RetryCheckout(ctx context.Context, actor model.Actor, registrationID string) (*model.Checkout, error) {
	reg, err := o.regs.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != reg.GuardianID && actor.ID != reg.RegisteredBy {
		return nil, model.ErrForbidden
	}
	if reg.Status != model.RegistrationRegistered {
		return nil, model.ErrInvalidRegistrationState
	}

	p, err := o.payments.GetLatestPaymentForRegistration(ctx, registrationID)
	switch {
	case errors.Is(err, model.ErrNotFound):
	case err != nil:
		return nil, err
	case p.Status == model.PaymentPending:
		if p.GatewayReference != "" {
			return nil, model.NewError(model.KindInvalidPaymentState, "checkout is already open for this payment", nil)
		}
		return o.requestIntent(ctx, p)
	case p.Status != model.PaymentFailed:
		return nil, model.NewError(model.KindInvalidPaymentState, "registration has no payment awaiting checkout", nil)
	}
	if reg.PaymentStatus != model.PaymentStatePending {
		return nil, model.NewError(model.KindInvalidPaymentState, "registration has no payment awaiting checkout", nil)
	}

	_, checkout, err := o.OpenPayment(ctx, reg)
	if err != nil {
		return nil, err
	}
	return checkout, nil
}

func (o *PaymentOrchestrator) requestIntent(ctx context.Context, p *model.Payment) (*model.Checkout, error) {
	gctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	intent, err := o.gateway.CreateIntent(gctx, p.Amount, p.Currency, map[string]string{
		"payment_id":      p.ID,
		"registration_id": p.RegistrationID,
	})
	if err != nil {
		return nil, o.gatewayError("create_intent", p, err)
	}
	o.metrics.GatewayCall("create_intent", "ok")

	if err := o.payments.SetGatewayReference(ctx, p.ID, intent.Reference); err != nil {
		return nil, fmt.Errorf("store gateway reference: %w", err)
	}
	p.GatewayReference = intent.Reference

	return &model.Checkout{
		PaymentID:        p.ID,
		GatewayReference: intent.Reference,
		ClientHandle:     intent.ClientHandle,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Simulated:        o.gateway.Simulated(),
	}, nil
}

// CompletePayment confirms the capture of the payment holding reference and
// marks it completed. Calling it again for a completed payment returns the
// payment without side effects, so duplicate webhooks send a single
// PaymentConfirmed notification.
func (o *PaymentOrchestrator) CompletePayment(ctx context.Context, reference string) (*model.Payment, error) {
	p, err := o.payments.GetPaymentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case model.PaymentCompleted:
		return p, nil
	case model.PaymentPending:
	default:
		return nil, model.ErrInvalidPaymentState
	}

	gctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	capture, err := o.gateway.RetrieveIntent(gctx, reference)
	if err != nil {
		return nil, o.gatewayError("retrieve_intent", p, err)
	}
	o.metrics.GatewayCall("retrieve_intent", "ok")

	if capture.Status != gateway.StatusSucceeded {
		o.log.Info("payment not captured yet",
			slog.String("payment_id", p.ID),
			slog.String("gateway_status", string(capture.Status)))
		return nil, model.NewError(model.KindPaymentNotCaptured,
			fmt.Sprintf("gateway reports %s", capture.Status), nil)
	}

	now := o.now().UTC()
	err = o.transition(ctx, p, model.PaymentCompleted, model.PaymentStatePaid, map[string]any{
		"capture": map[string]any{
			"status":          string(capture.Status),
			"captured_amount": int64(capture.CapturedAmount),
			"simulated":       o.gateway.Simulated(),
		},
	}, now)
	if errors.Is(err, model.ErrInvalidPaymentState) {
		// A concurrent call completed it first and owns the notification.
		current, getErr := o.payments.GetPayment(ctx, p.ID)
		if getErr == nil && current.Status == model.PaymentCompleted {
			return current, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	o.notifyGuardian(ctx, p.RegistrationID, func(d *model.DueRegistration) model.Notification {
		return newNotification(model.NotifyPaymentConfirmed, model.NotificationData{
			GuardianName: d.Guardian.FullName(),
			StudentName:  d.Student.FullName(),
			EventTitle:   d.Event.Title,
			Amount:       p.Amount,
			Reference:    reference,
			PaymentDate:  now,
		})
	})
	return p, nil
}

// RejectPayment records a rejection reported for reference. The gateway is
// asked first and the payment only fails once the gateway reports the intent
// canceled; any other status leaves it pending. The registration stays
// pending so a new payment can be opened. Rejecting an already failed payment
// is a no-op.
func (o *PaymentOrchestrator) RejectPayment(ctx context.Context, reference, reason string) (*model.Payment, error) {
	p, err := o.payments.GetPaymentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case model.PaymentFailed:
		return p, nil
	case model.PaymentPending:
	default:
		return nil, model.ErrInvalidPaymentState
	}

	gctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	capture, err := o.gateway.RetrieveIntent(gctx, reference)
	if err != nil {
		return nil, o.gatewayError("retrieve_intent", p, err)
	}
	o.metrics.GatewayCall("retrieve_intent", "ok")

	if capture.Status != gateway.StatusCanceled {
		o.log.Warn("rejection not confirmed by gateway",
			slog.String("payment_id", p.ID),
			slog.String("gateway_status", string(capture.Status)))
		return nil, model.NewError(model.KindInvalidPaymentState,
			fmt.Sprintf("gateway reports %s, payment not rejected", capture.Status), nil)
	}

	err = o.transition(ctx, p, model.PaymentFailed, "", map[string]any{
		"failure_reason": reason,
		"gateway_status": string(capture.Status),
	}, o.now().UTC())
	if errors.Is(err, model.ErrInvalidPaymentState) {
		current, getErr := o.payments.GetPayment(ctx, p.ID)
		if getErr == nil && current.Status == model.PaymentFailed {
			return current, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RefundPayment refunds a completed payment, in full or in part. Only admins
// may refund. The payment stays locked from the status check until the
// refund is recorded, so concurrent requests cannot refund it twice, and the
// gateway call carries an idempotency key derived from the payment. The
// refund detail is kept in the gateway response snapshot and the
// registration moves to refunded.
func (o *PaymentOrchestrator) RefundPayment(ctx context.Context, actor model.Actor, req model.RefundRequest) (*model.Payment, error) {
	if !actor.IsAdmin() {
		return nil, model.ErrForbidden
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var refund gateway.Refund
	p, err := o.payments.WithLockedPayment(ctx, req.PaymentID, func(p *model.Payment) (*model.PaymentTransition, error) {
		if !model.CanTransition(p.Status, model.PaymentRefunded) {
			return nil, model.ErrInvalidPaymentState
		}
		if req.Amount > p.Amount {
			return nil, model.Validation(fmt.Sprintf("refund amount %s exceeds payment amount %s", req.Amount, p.Amount))
		}

		gctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		var err error
		refund, err = o.gateway.Refund(gctx, p.GatewayReference, req.Amount, refundKey(p.ID))
		if err != nil {
			return nil, o.gatewayError("refund", p, err)
		}
		o.metrics.GatewayCall("refund", "ok")

		now := o.now().UTC()
		return &model.PaymentTransition{
			PaymentID:         p.ID,
			From:              p.Status,
			To:                model.PaymentRefunded,
			RegistrationState: model.PaymentStateRefunded,
			Detail: map[string]any{
				"refund": map[string]any{
					"id":          refund.ID,
					"amount":      int64(req.Amount),
					"reason":      req.Reason,
					"refunded_by": actor.ID,
					"refunded_at": now.Format(time.RFC3339),
					"simulated":   o.gateway.Simulated(),
				},
			},
			At: now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	o.metrics.PaymentTransition(string(model.PaymentCompleted), string(model.PaymentRefunded))
	o.log.Info("payment refunded",
		slog.String("payment_id", p.ID),
		slog.String("refund_id", refund.ID),
		slog.String("amount", req.Amount.String()))
	return p, nil
}

// refundKey is the gateway idempotency key of a payment's refund. A payment
// is refunded at most once, so one key per payment suffices.
func refundKey(paymentID string) string { return "refund:" + paymentID }

// transition applies one legal status change to p and mirrors it in memory.
func (o *PaymentOrchestrator) transition(ctx context.Context, p *model.Payment, to model.PaymentStatus, regState model.PaymentState, detail map[string]any, at time.Time) error {
	from := p.Status
	if !model.CanTransition(from, to) {
		return model.ErrInvalidPaymentState
	}
	t := model.PaymentTransition{
		PaymentID:         p.ID,
		From:              from,
		To:                to,
		RegistrationState: regState,
		Detail:            detail,
		At:                at,
	}
	if err := o.payments.Transition(ctx, t); err != nil {
		return err
	}
	o.metrics.PaymentTransition(string(from), string(to))
	p.Apply(t)
	return nil
}

// gatewayError classifies a failed gateway call. The payment is left as is.
func (o *PaymentOrchestrator) gatewayError(op string, p *model.Payment, err error) error {
	kind, msg := model.KindGatewayUnavailable, model.ErrGatewayUnavailable.Message
	if errors.Is(err, context.DeadlineExceeded) {
		kind, msg = model.KindGatewayTimeout, model.ErrGatewayTimeout.Message
	}
	o.metrics.GatewayCall(op, string(kind))
	o.log.Warn("payment gateway call failed",
		slog.String("operation", op),
		slog.String("payment_id", p.ID),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()))
	return model.NewError(kind, msg, err)
}

// notifyGuardian hands a notification about a registration to the notifier.
// Failures are logged and never reach the caller.
func (o *PaymentOrchestrator) notifyGuardian(ctx context.Context, registrationID string, build func(*model.DueRegistration) model.Notification) {
	d, err := o.regs.GetDueRegistration(ctx, registrationID)
	if err == nil && d.Guardian.ID == "" {
		err = errNoGuardian
	}
	if err == nil {
		err = o.notify.Notify(ctx, build(d), recipientOf(&d.Guardian))
	}
	if err != nil {
		o.log.Warn("payment notification not sent",
			slog.String("registration_id", registrationID),
			slog.String("error", err.Error()))
	}
}

// SendOverduePaymentReminders sends one PaymentReminder per registration
// still pending after its event's deadline, for events not yet started. It
// does not remember what it sent: every run reminds every match again.
func (o *PaymentOrchestrator) SendOverduePaymentReminders(ctx context.Context) (*model.SweepResult, error) {
	now := o.now().UTC()
	due, err := o.regs.ListOverduePayments(ctx, now)
	if err != nil {
		return nil, err
	}

	res := &model.SweepResult{Matched: len(due), Outcomes: make([]model.ReminderOutcome, 0, len(due))}
	for i := range due {
		if err := pace(ctx, i, o.bulkDelay); err != nil {
			return res, err
		}
		d := &due[i]
		var dueDate time.Time
		if d.Event.RegistrationDeadline != nil {
			dueDate = *d.Event.RegistrationDeadline
		}
		n := newNotification(model.NotifyPaymentReminder, model.NotificationData{
			GuardianName:   d.Guardian.FullName(),
			StudentName:    d.Student.FullName(),
			EventTitle:     d.Event.Title,
			EventDate:      d.Event.StartDate,
			Amount:         d.Registration.PaymentAmount,
			PaymentDueDate: dueDate,
			DaysLeft:       daysUntil(now, d.Event.StartDate),
		})
		res.Outcomes = append(res.Outcomes, sendReminder(ctx, o.notify, d, n))
	}
	o.log.Info("payment reminder sweep finished", slog.Int("matched", res.Matched))
	return res, nil
}

func sendReminder(ctx context.Context, notify Notifier, d *model.DueRegistration, n model.Notification) model.ReminderOutcome {
	out := model.ReminderOutcome{RegistrationID: d.Registration.ID}
	err := errNoGuardian
	if d.Guardian.ID != "" {
		err = notify.Notify(ctx, n, recipientOf(&d.Guardian))
	}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Success = true
	return out
}
