package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/school-events/internal/metrics"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// defaultPaymentWindow is the due date offset used when an event has no
// registration deadline.
const defaultPaymentWindow = 7 * 24 * time.Hour

// PaymentOpener opens the payment of a freshly created registration.
type PaymentOpener interface {
	OpenPayment(ctx context.Context, reg *model.Registration) (*model.Payment, *model.Checkout, error)
}

// RegistrationManager enrols students in events and owns the participant
// counter of events.
type RegistrationManager struct {
	store     RegistrationStore
	accounts  AccountLookup
	payments  PaymentOpener
	notify    Notifier
	bulkDelay time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

func NewRegistrationManager(
	store RegistrationStore,
	accounts AccountLookup,
	payments PaymentOpener,
	notify Notifier,
	bulkDelay time.Duration,
	m *metrics.Metrics,
	log *slog.Logger,
) *RegistrationManager {
	return &RegistrationManager{
		store:     store,
		accounts:  accounts,
		payments:  payments,
		notify:    notify,
		bulkDelay: bulkDelay,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// RegisterStudent registers req.StudentID for req.EventID on behalf of actor
// and opens its payment for the event fee.
//
// The registration is committed before the payment is opened. A gateway
// failure after that point is reported in RegistrationResult.PaymentError and
// the payment stays pending; the registration itself still succeeds. The
// guardian notification is handed off and never affects the result.
func (m *RegistrationManager) RegisterStudent(ctx context.Context, actor model.Actor, req model.RegisterRequest) (*model.RegistrationResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	student, err := m.store.GetStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if !student.IsActive {
		return nil, model.Validation("student is not active")
	}
	if !canRegister(actor, student) {
		return nil, model.ErrForbidden
	}

	reg := &model.Registration{
		EventID:      req.EventID,
		StudentID:    student.ID,
		GuardianID:   student.GuardianID,
		RegisteredBy: actor.ID,
	}
	event, err := m.store.CreateRegistration(ctx, reg, m.now())
	m.metrics.Registration(string(outcome(err)))
	if err != nil {
		return nil, err
	}
	m.log.Info("student registered",
		slog.String("registration_id", reg.ID),
		slog.String("event_id", event.ID),
		slog.String("student_id", student.ID),
		slog.String("registered_by", actor.ID))

	result := &model.RegistrationResult{Registration: reg}
	payment, checkout, err := m.payments.OpenPayment(ctx, reg)
	if err != nil {
		m.log.Warn("registration committed without an open payment",
			slog.String("registration_id", reg.ID),
			slog.String("error", err.Error()))
		result.PaymentError = string(model.KindOf(err))
	}
	result.Payment = payment
	result.Checkout = checkout

	m.announce(ctx, actor, reg, student, event)
	return result, nil
}

func outcome(err error) model.ErrorKind {
	if err == nil {
		return "ok"
	}
	return model.KindOf(err)
}

// canRegister allows admins, the student's class teacher and the student's
// guardian.
func canRegister(actor model.Actor, s *model.Student) bool {
	switch actor.Role {
	case model.RoleAdmin:
		return true
	case model.RoleTeacher:
		return s.ClassTeacherID != "" && s.ClassTeacherID == actor.ID
	case model.RoleGuardian:
		return s.GuardianID != "" && s.GuardianID == actor.ID
	}
	return false
}

// announce sends RegistrationCreated to the student's guardian.
func (m *RegistrationManager) announce(ctx context.Context, actor model.Actor, reg *model.Registration, student *model.Student, event *model.Event) {
	if student.GuardianID == "" {
		return
	}
	guardian, err := m.accounts.GetAccountByID(ctx, student.GuardianID)
	if err != nil {
		m.log.Warn("registration notification not sent",
			slog.String("registration_id", reg.ID),
			slog.String("error", err.Error()))
		return
	}

	registeredBy := guardian.FullName()
	if actor.ID != guardian.ID {
		if a, err := m.accounts.GetAccountByID(ctx, actor.ID); err == nil {
			registeredBy = a.FullName()
		}
	}

	due := m.now().Add(defaultPaymentWindow)
	if event.RegistrationDeadline != nil {
		due = *event.RegistrationDeadline
	}

	n := newNotification(model.NotifyRegistrationCreated, model.NotificationData{
		GuardianName:   guardian.FullName(),
		StudentName:    student.FullName(),
		EventTitle:     event.Title,
		EventDate:      event.StartDate,
		Location:       event.Location,
		Fee:            reg.PaymentAmount,
		PaymentDueDate: due,
		RegisteredBy:   registeredBy,
	})
	if err := m.notify.Notify(ctx, n, recipientOf(guardian)); err != nil {
		m.log.Warn("registration notification not sent",
			slog.String("registration_id", reg.ID),
			slog.String("error", err.Error()))
	}
}

// CancelRegistration cancels a registered booking and frees its place. Only
// the owning guardian or an admin may cancel. A fee still owed is cancelled
// with it; a completed payment is not refunded here.
func (m *RegistrationManager) CancelRegistration(ctx context.Context, actor model.Actor, registrationID string) (*model.Registration, error) {
	reg, err := m.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && (reg.GuardianID == "" || reg.GuardianID != actor.ID) {
		return nil, model.ErrForbidden
	}
	if reg.Status != model.RegistrationRegistered {
		return nil, model.ErrInvalidRegistrationState
	}

	if err := m.store.CancelRegistration(ctx, registrationID); err != nil {
		return nil, err
	}
	reg.Status = model.RegistrationCancelled
	if reg.PaymentStatus == model.PaymentStatePending {
		reg.PaymentStatus = model.PaymentStateCancelled
	}
	m.log.Info("registration cancelled",
		slog.String("registration_id", reg.ID),
		slog.String("cancelled_by", actor.ID))
	return reg, nil
}

// MarkAttendance records whether a registered student attended. Only the
// student's class teacher or an admin may mark attendance.
func (m *RegistrationManager) MarkAttendance(ctx context.Context, actor model.Actor, registrationID string, attended bool) (*model.Registration, error) {
	reg, err := m.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		student, err := m.store.GetStudent(ctx, reg.StudentID)
		if err != nil {
			return nil, err
		}
		if actor.Role != model.RoleTeacher || student.ClassTeacherID != actor.ID {
			return nil, model.ErrForbidden
		}
	}
	if reg.Status != model.RegistrationRegistered {
		return nil, model.ErrInvalidRegistrationState
	}

	status := model.RegistrationNoShow
	if attended {
		status = model.RegistrationAttended
	}
	if err := m.store.SetAttendance(ctx, registrationID, status); err != nil {
		return nil, err
	}
	reg.Status = status
	return reg, nil
}

// SendEventReminders sends one EventReminder per registered student of every
// active event starting within window. Like the payment sweep it keeps no
// record of what it already sent.
func (m *RegistrationManager) SendEventReminders(ctx context.Context, window time.Duration) (*model.SweepResult, error) {
	if window <= 0 {
		return nil, model.Validation(fmt.Sprintf("reminder window must be positive, got %s", window))
	}
	now := m.now().UTC()
	due, err := m.store.ListUpcomingRegistrations(ctx, now, now.Add(window))
	if err != nil {
		return nil, err
	}

	res := &model.SweepResult{Matched: len(due), Outcomes: make([]model.ReminderOutcome, 0, len(due))}
	for i := range due {
		if err := pace(ctx, i, m.bulkDelay); err != nil {
			return res, err
		}
		d := &due[i]
		n := newNotification(model.NotifyEventReminder, model.NotificationData{
			GuardianName: d.Guardian.FullName(),
			StudentName:  d.Student.FullName(),
			EventTitle:   d.Event.Title,
			EventDate:    d.Event.StartDate,
			Location:     d.Event.Location,
		})
		res.Outcomes = append(res.Outcomes, sendReminder(ctx, m.notify, d, n))
	}
	m.log.Info("event reminder sweep finished", slog.Int("matched", res.Matched))
	return res, nil
}
