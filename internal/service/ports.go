// Package service implements the registration, payment, notification and
// security logic between the HTTP handlers and the repository layer.
package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/school-events/internal/gateway"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
	"github.com/Shivanand-hulikatti/school-events/internal/transport"
)

// RegistrationStore is the persistence the registration manager needs.
// CreateRegistration must check event status, deadline, duplicates and
// capacity, then insert, as one atomic unit.
type RegistrationStore interface {
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	CreateRegistration(ctx context.Context, reg *model.Registration, now time.Time) (*model.Event, error)
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	CancelRegistration(ctx context.Context, id string) error
	SetAttendance(ctx context.Context, id string, status model.RegistrationStatus) error
	ListUpcomingRegistrations(ctx context.Context, from, to time.Time) ([]model.DueRegistration, error)
}

// RegistrationReader is the read side the payment orchestrator needs.
type RegistrationReader interface {
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	GetDueRegistration(ctx context.Context, id string) (*model.DueRegistration, error)
	ListOverduePayments(ctx context.Context, now time.Time) ([]model.DueRegistration, error)
}

type PaymentStore interface {
	// CreatePayment must fail with model.ErrInvalidPaymentState when the
	// registration already has a payment that has not failed. A non-empty
	// regState is written to the registration atomically with the insert.
	CreatePayment(ctx context.Context, p *model.Payment, regState model.PaymentState) error
	SetGatewayReference(ctx context.Context, id, reference string) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error)
	GetLatestPaymentForRegistration(ctx context.Context, registrationID string) (*model.Payment, error)
	// Transition must fail with model.ErrInvalidPaymentState, writing
	// nothing, when the payment is no longer in t.From.
	Transition(ctx context.Context, t model.PaymentTransition) error
	// WithLockedPayment holds an exclusive lock on the payment while fn runs
	// and applies the transition fn returns before releasing it.
	WithLockedPayment(ctx context.Context, id string, fn func(p *model.Payment) (*model.PaymentTransition, error)) (*model.Payment, error)
}

type AccountStore interface {
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	RecordFailedLogin(ctx context.Context, id string, now time.Time, threshold int, lockout time.Duration) (int, *time.Time, error)
	RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) error
	SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash string, passwordHash []byte, now time.Time) (bool, error)
}

// AccountLookup resolves notification recipients.
type AccountLookup interface {
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
}

type NotificationStore interface {
	SaveInApp(ctx context.Context, n *model.InAppNotification) error
	LogDelivery(ctx context.Context, rec *model.NotificationRecord) error
}

// PaymentGateway is satisfied by the adapters in package gateway.
type PaymentGateway interface {
	Simulated() bool
	CreateIntent(ctx context.Context, amount model.Cents, currency string, metadata map[string]string) (gateway.Intent, error)
	RetrieveIntent(ctx context.Context, reference string) (gateway.Capture, error)
	Refund(ctx context.Context, reference string, amount model.Cents, idempotencyKey string) (gateway.Refund, error)
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) transport.Result
}

type SMSSender interface {
	Send(ctx context.Context, toPhone, text string) transport.Result
}

// Notifier hands a notification off for delivery. Implementations may
// deliver synchronously, in a goroutine or through a queue.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification, r model.Recipient) error
}

var (
	_ PaymentGateway = (*gateway.Stripe)(nil)
	_ PaymentGateway = (*gateway.Simulated)(nil)
	_ EmailSender    = (*transport.SendGrid)(nil)
	_ EmailSender    = transport.UnconfiguredEmail{}
	_ SMSSender      = (*transport.SimulatedSMS)(nil)
)
