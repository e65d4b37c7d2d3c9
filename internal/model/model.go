// Package model defines the core domain types for the school events portal.
package model

import (
	"fmt"
	"time"
)

// Role is the access level of an Account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleTeacher  Role = "teacher"
	RoleGuardian Role = "guardian"
)

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Cents is a monetary amount in minor currency units.
type Cents int64

// String renders the amount with two decimal places, e.g. 1250 → "12.50".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Account is a login identity. The throttling and reset-token fields are
// owned by the security guard.
type Account struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Phone               string     `json:"phone,omitempty"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Role                Role       `json:"role"`
	PasswordHash        []byte     `json:"-"`
	IsActive            bool       `json:"is_active"`
	FailedAttempts      int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	ResetTokenHash      string     `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
}

// FullName returns "First Last".
func (a *Account) FullName() string { return a.FirstName + " " + a.LastName }

// LockedAt reports whether the account is locked at the given instant.
func (a *Account) LockedAt(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Student belongs to one class and, optionally, one guardian account.
type Student struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Grade          string `json:"grade"`
	Section        string `json:"section"`
	ClassTeacherID string `json:"class_teacher_id,omitempty"`
	GuardianID     string `json:"guardian_id,omitempty"`
	IsActive       bool   `json:"is_active"`
}

// FullName returns "First Last".
func (s *Student) FullName() string { return s.FirstName + " " + s.LastName }

// EventStatus is the lifecycle state of an Event.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventActive    EventStatus = "active"
	EventCancelled EventStatus = "cancelled"
	EventCompleted EventStatus = "completed"
)

// Event is a school activity students can register for.
type Event struct {
	ID                   string      `json:"id"`
	Title                string      `json:"title"`
	Location             string      `json:"location"`
	StartDate            time.Time   `json:"start_date"`
	RegistrationDeadline *time.Time  `json:"registration_deadline,omitempty"`
	Fee                  Cents       `json:"fee"`
	MaxParticipants      *int        `json:"max_participants,omitempty"`
	CurrentParticipants  int         `json:"current_participants"`
	Status               EventStatus `json:"status"`
}

// RegistrationStatus tracks attendance-related state of a Registration.
type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationCancelled  RegistrationStatus = "cancelled"
	RegistrationAttended   RegistrationStatus = "attended"
	RegistrationNoShow     RegistrationStatus = "no_show"
)

// PaymentState is the payment-facing status carried on a Registration.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStatePaid      PaymentState = "paid"
	PaymentStateCancelled PaymentState = "cancelled" // registration cancelled before paying
	PaymentStateRefunded  PaymentState = "refunded"
)

// Registration links one Student to one Event under a guardian account.
type Registration struct {
	ID            string             `json:"id"`
	EventID       string             `json:"event_id"`
	StudentID     string             `json:"student_id"`
	GuardianID    string             `json:"guardian_id,omitempty"`
	RegisteredBy  string             `json:"registered_by"`
	Status        RegistrationStatus `json:"status"`
	PaymentStatus PaymentState       `json:"payment_status"`
	PaymentAmount Cents              `json:"payment_amount"`
	CreatedAt     time.Time          `json:"created_at"`
}

// PaymentStatus is the state of a Payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// paymentTransitions lists every legal Payment status change.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentCompleted: {PaymentRefunded},
}

// CanTransition reports whether from → to is a legal Payment transition.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payment belongs to exactly one Registration.
type Payment struct {
	ID               string         `json:"id"`
	RegistrationID   string         `json:"registration_id"`
	Amount           Cents          `json:"amount"`
	Currency         string         `json:"currency"`
	Status           PaymentStatus  `json:"status"`
	GatewayReference string         `json:"gateway_reference,omitempty"`
	GatewayResponse  map[string]any `json:"gateway_response,omitempty"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// PaymentTransition is one conditional status change of a Payment. The store
// applies it only while the payment is still in From.
type PaymentTransition struct {
	PaymentID string
	From      PaymentStatus
	To        PaymentStatus
	// RegistrationState, when set, is written to the owning registration in
	// the same transaction.
	RegistrationState PaymentState
	// Detail is merged into the gateway response snapshot.
	Detail map[string]any
	At     time.Time
}

// Apply mirrors a stored transition onto p. The gateway response map is
// replaced, never mutated, since copies of p may share it.
func (p *Payment) Apply(t PaymentTransition) {
	merged := make(map[string]any, len(p.GatewayResponse)+len(t.Detail))
	for k, v := range p.GatewayResponse {
		merged[k] = v
	}
	for k, v := range t.Detail {
		merged[k] = v
	}
	at := t.At
	p.Status = t.To
	p.ProcessedAt = &at
	p.GatewayResponse = merged
}

// Checkout is what a caller needs to finish a payment out-of-band.
type Checkout struct {
	PaymentID        string `json:"payment_id"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	ClientHandle     string `json:"client_handle,omitempty"`
	Amount           Cents  `json:"amount"`
	Currency         string `json:"currency"`
	Simulated        bool   `json:"simulated"`
}

// RegistrationResult is returned by a successful registration.
type RegistrationResult struct {
	Registration *Registration `json:"registration"`
	Payment      *Payment      `json:"payment,omitempty"`
	Checkout     *Checkout     `json:"checkout,omitempty"`
	// PaymentError is set when the registration committed but the payment
	// could not be opened with the gateway; the payment stays pending.
	PaymentError string `json:"payment_error,omitempty"`
}

// RegisterRequest is the payload for registering a student for an event.
type RegisterRequest struct {
	EventID   string `json:"event_id" validate:"required,uuid"`
	StudentID string `json:"student_id" validate:"required,uuid"`
}

// RefundRequest is the payload for refunding a completed payment.
type RefundRequest struct {
	PaymentID string `json:"payment_id" validate:"required,uuid"`
	Amount    Cents  `json:"amount" validate:"gt=0"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
