package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/school-events/internal/gateway"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

type regEnv struct {
	store    *memStore
	gw       *fakeGateway
	notifier *recordingNotifier
	payments *PaymentOrchestrator
	mgr      *RegistrationManager
	guardian *model.Account
	teacher  *model.Account
	admin    model.Actor
	now      time.Time
}

func newRegEnv(t *testing.T) *regEnv {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	gw := &fakeGateway{}
	notifier := &recordingNotifier{}

	payments := NewPaymentOrchestrator(store, store, gw, notifier, "usd", time.Second, 0, nil, discardLogger())
	payments.now = fixedClock(now)
	mgr := NewRegistrationManager(store, store, payments, notifier, 0, nil, discardLogger())
	mgr.now = fixedClock(now)

	return &regEnv{
		store:    store,
		gw:       gw,
		notifier: notifier,
		payments: payments,
		mgr:      mgr,
		guardian: store.addAccount(model.Account{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "+100", Role: model.RoleGuardian, IsActive: true}),
		teacher:  store.addAccount(model.Account{FirstName: "Alan", LastName: "Turing", Email: "alan@example.com", Role: model.RoleTeacher, IsActive: true}),
		admin:    model.Actor{ID: uuid.NewString(), Role: model.RoleAdmin},
		now:      now,
	}
}

func (e *regEnv) student() *model.Student {
	return e.store.addStudent(model.Student{
		FirstName: "Byron", LastName: "Lovelace", Grade: "5", Section: "A",
		ClassTeacherID: e.teacher.ID, GuardianID: e.guardian.ID, IsActive: true,
	})
}

func (e *regEnv) event(fee model.Cents, max *int) *model.Event {
	deadline := e.now.Add(48 * time.Hour)
	return e.store.addEvent(model.Event{
		Title: "Science Fair", Location: "Main Hall", StartDate: e.now.Add(72 * time.Hour),
		RegistrationDeadline: &deadline, Fee: fee, MaxParticipants: max, Status: model.EventActive,
	})
}

func (e *regEnv) guardianActor() model.Actor {
	return model.Actor{ID: e.guardian.ID, Role: model.RoleGuardian}
}

func intPtr(i int) *int { return &i }

func TestRegisterStudent_OpensPaymentAndAnnounces(t *testing.T) {
	env := newRegEnv(t)
	st := env.student()
	ev := env.event(1500, intPtr(10))

	res, err := env.mgr.RegisterStudent(context.Background(), model.Actor{ID: env.teacher.ID, Role: model.RoleTeacher},
		model.RegisterRequest{EventID: ev.ID, StudentID: st.ID})
	if err != nil {
		t.Fatalf("RegisterStudent() error = %v", err)
	}

	reg := res.Registration
	if reg.Status != model.RegistrationRegistered || reg.PaymentStatus != model.PaymentStatePending {
		t.Errorf("registration = %s/%s, want registered/pending", reg.Status, reg.PaymentStatus)
	}
	if reg.GuardianID != env.guardian.ID || reg.RegisteredBy != env.teacher.ID {
		t.Errorf("registration owners = %q/%q", reg.GuardianID, reg.RegisteredBy)
	}
	if res.Payment == nil || res.Payment.Status != model.PaymentPending || res.Payment.Amount != 1500 {
		t.Fatalf("payment = %+v, want pending 1500", res.Payment)
	}
	if res.Checkout == nil || res.Checkout.GatewayReference == "" || res.Checkout.ClientHandle == "" {
		t.Errorf("checkout = %+v, want a gateway handle", res.Checkout)
	}
	if res.PaymentError != "" {
		t.Errorf("payment error = %q", res.PaymentError)
	}
	if got := env.store.event(ev.ID).CurrentParticipants; got != 1 {
		t.Errorf("current participants = %d, want 1", got)
	}

	if len(env.notifier.Sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(env.notifier.Sent))
	}
	sent := env.notifier.Sent[0]
	if sent.N.Kind != model.NotifyRegistrationCreated || sent.R.AccountID != env.guardian.ID {
		t.Errorf("notification = %s to %s", sent.N.Kind, sent.R.AccountID)
	}
	if sent.N.Data.Fee != 1500 || !sent.N.Data.PaymentDueDate.Equal(*ev.RegistrationDeadline) {
		t.Errorf("notification data = %+v", sent.N.Data)
	}
	if sent.N.Data.RegisteredBy != "Alan Turing" {
		t.Errorf("registered by = %q, want the teacher's name", sent.N.Data.RegisteredBy)
	}
}

func TestRegisterStudent_ZeroFeeCompletesWithoutGateway(t *testing.T) {
	env := newRegEnv(t)
	st := env.student()
	ev := env.event(0, nil)

	res, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(),
		model.RegisterRequest{EventID: ev.ID, StudentID: st.ID})
	if err != nil {
		t.Fatalf("RegisterStudent() error = %v", err)
	}

	if res.Payment.Status != model.PaymentCompleted {
		t.Errorf("payment status = %s, want completed", res.Payment.Status)
	}
	if got := env.store.registration(res.Registration.ID).PaymentStatus; got != model.PaymentStatePaid {
		t.Errorf("stored registration payment status = %s, want paid", got)
	}
	if res.Registration.PaymentStatus != model.PaymentStatePaid {
		t.Errorf("returned registration payment status = %s, want paid", res.Registration.PaymentStatus)
	}
	if env.gw.calls() != 0 {
		t.Errorf("gateway calls = %d, want 0", env.gw.calls())
	}
	if res.Checkout != nil {
		t.Errorf("checkout = %+v, want none", res.Checkout)
	}
}

func TestRegisterStudent_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *regEnv) (model.Actor, model.RegisterRequest)
		want  model.ErrorKind
	}{
		{
			name: "invalid_request",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				return env.guardianActor(), model.RegisterRequest{EventID: "not-a-uuid"}
			},
			want: model.KindValidation,
		},
		{
			name: "event_not_active",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				ev := env.event(0, nil)
				env.store.events[ev.ID].Status = model.EventDraft
				return env.guardianActor(), model.RegisterRequest{EventID: ev.ID, StudentID: env.student().ID}
			},
			want: model.KindEventNotActive,
		},
		{
			name: "deadline_passed",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				ev := env.event(0, nil)
				past := env.now.Add(-time.Minute)
				env.store.events[ev.ID].RegistrationDeadline = &past
				return env.guardianActor(), model.RegisterRequest{EventID: ev.ID, StudentID: env.student().ID}
			},
			want: model.KindRegistrationClosed,
		},
		{
			name: "duplicate",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				ev := env.event(0, nil)
				req := model.RegisterRequest{EventID: ev.ID, StudentID: env.student().ID}
				if _, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(), req); err != nil {
					panic(err)
				}
				return env.guardianActor(), req
			},
			want: model.KindDuplicateRegistration,
		},
		{
			name: "event_full",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				ev := env.event(0, intPtr(1))
				env.store.events[ev.ID].CurrentParticipants = 1
				return env.guardianActor(), model.RegisterRequest{EventID: ev.ID, StudentID: env.student().ID}
			},
			want: model.KindEventFull,
		},
		{
			name: "other_guardian",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				ev := env.event(0, nil)
				return model.Actor{ID: uuid.NewString(), Role: model.RoleGuardian},
					model.RegisterRequest{EventID: ev.ID, StudentID: env.student().ID}
			},
			want: model.KindForbidden,
		},
		{
			name: "teacher_of_another_class",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				ev := env.event(0, nil)
				return model.Actor{ID: uuid.NewString(), Role: model.RoleTeacher},
					model.RegisterRequest{EventID: ev.ID, StudentID: env.student().ID}
			},
			want: model.KindForbidden,
		},
		{
			name: "inactive_student",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				ev := env.event(0, nil)
				st := env.student()
				env.store.students[st.ID].IsActive = false
				return env.guardianActor(), model.RegisterRequest{EventID: ev.ID, StudentID: st.ID}
			},
			want: model.KindValidation,
		},
		{
			name: "unknown_event",
			setup: func(env *regEnv) (model.Actor, model.RegisterRequest) {
				return env.guardianActor(), model.RegisterRequest{EventID: uuid.NewString(), StudentID: env.student().ID}
			},
			want: model.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newRegEnv(t)
			actor, req := tt.setup(env)
			before := len(env.store.registrations)

			_, err := env.mgr.RegisterStudent(context.Background(), actor, req)
			if got := model.KindOf(err); got != tt.want {
				t.Fatalf("error kind = %s (%v), want %s", got, err, tt.want)
			}
			if len(env.store.registrations) != before {
				t.Errorf("registrations changed from %d to %d", before, len(env.store.registrations))
			}
		})
	}
}

func TestRegisterStudent_ConcurrentLastPlace(t *testing.T) {
	env := newRegEnv(t)
	ev := env.event(0, intPtr(1))
	students := []*model.Student{env.student(), env.student()}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(students))
	)
	for i, st := range students {
		i, st := i, st
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.mgr.RegisterStudent(context.Background(), env.admin,
				model.RegisterRequest{EventID: ev.ID, StudentID: st.ID})
		}()
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrEventFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || full != 1 {
		t.Fatalf("ok=%d full=%d, want exactly one of each", ok, full)
	}
	if got := env.store.event(ev.ID).CurrentParticipants; got != 1 {
		t.Errorf("current participants = %d, want 1", got)
	}
}

func TestRegisterStudent_GatewayOutageKeepsRegistration(t *testing.T) {
	env := newRegEnv(t)
	env.gw.CreateErr = gateway.ErrUnavailable
	st := env.student()
	ev := env.event(2500, nil)

	res, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(),
		model.RegisterRequest{EventID: ev.ID, StudentID: st.ID})
	if err != nil {
		t.Fatalf("RegisterStudent() error = %v, want registration to succeed", err)
	}
	if res.PaymentError != string(model.KindGatewayUnavailable) {
		t.Errorf("payment error = %q, want GatewayUnavailable", res.PaymentError)
	}
	if res.Payment == nil || res.Payment.Status != model.PaymentPending {
		t.Fatalf("payment = %+v, want pending", res.Payment)
	}
	if got := env.store.registration(res.Registration.ID).Status; got != model.RegistrationRegistered {
		t.Errorf("registration status = %s, want registered", got)
	}

	env.gw.CreateErr = nil
	checkout, err := env.payments.RetryCheckout(context.Background(), env.guardianActor(), res.Registration.ID)
	if err != nil {
		t.Fatalf("RetryCheckout() error = %v", err)
	}
	if checkout.PaymentID != res.Payment.ID || checkout.GatewayReference == "" {
		t.Errorf("checkout = %+v", checkout)
	}
	if _, err := env.payments.RetryCheckout(context.Background(), env.guardianActor(), res.Registration.ID); !errors.Is(err, model.ErrInvalidPaymentState) {
		t.Errorf("second RetryCheckout() error = %v, want InvalidPaymentState", err)
	}
}

func TestRegisterStudent_NotificationFailureIsNotSurfaced(t *testing.T) {
	env := newRegEnv(t)
	env.notifier.Err = model.NewError(model.KindNotificationChannelFailure, "down", nil)
	st := env.student()
	ev := env.event(0, nil)

	if _, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(),
		model.RegisterRequest{EventID: ev.ID, StudentID: st.ID}); err != nil {
		t.Fatalf("RegisterStudent() error = %v, want nil", err)
	}
}

func TestRegisterStudent_DueDateWithoutDeadline(t *testing.T) {
	env := newRegEnv(t)
	st := env.student()
	ev := env.event(1000, nil)
	env.store.events[ev.ID].RegistrationDeadline = nil

	if _, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(),
		model.RegisterRequest{EventID: ev.ID, StudentID: st.ID}); err != nil {
		t.Fatal(err)
	}
	want := env.now.Add(7 * 24 * time.Hour)
	if got := env.notifier.Sent[0].N.Data.PaymentDueDate; !got.Equal(want) {
		t.Errorf("due date = %v, want %v", got, want)
	}
}

func TestCancelRegistration(t *testing.T) {
	env := newRegEnv(t)
	st := env.student()
	ev := env.event(0, intPtr(5))
	res, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(),
		model.RegisterRequest{EventID: ev.ID, StudentID: st.ID})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Registration.ID

	stranger := model.Actor{ID: uuid.NewString(), Role: model.RoleGuardian}
	if _, err := env.mgr.CancelRegistration(context.Background(), stranger, id); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("stranger cancel error = %v, want Forbidden", err)
	}

	reg, err := env.mgr.CancelRegistration(context.Background(), env.guardianActor(), id)
	if err != nil {
		t.Fatalf("CancelRegistration() error = %v", err)
	}
	if reg.Status != model.RegistrationCancelled {
		t.Errorf("status = %s, want cancelled", reg.Status)
	}
	if got := env.store.event(ev.ID).CurrentParticipants; got != 0 {
		t.Errorf("current participants = %d, want 0", got)
	}
	// The completed zero-fee payment is not touched by cancellation.
	if got := env.store.payment(res.Payment.ID).Status; got != model.PaymentCompleted {
		t.Errorf("payment status = %s, want completed", got)
	}

	if _, err := env.mgr.CancelRegistration(context.Background(), env.admin, id); !errors.Is(err, model.ErrInvalidRegistrationState) {
		t.Errorf("second cancel error = %v, want InvalidRegistrationState", err)
	}

	// A cancelled registration no longer blocks a new one.
	if _, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(),
		model.RegisterRequest{EventID: ev.ID, StudentID: st.ID}); err != nil {
		t.Errorf("re-registration error = %v", err)
	}
}

func TestCancelRegistration_CancelsOwedFee(t *testing.T) {
	env := newRegEnv(t)
	ev := env.event(1500, nil)
	res, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(),
		model.RegisterRequest{EventID: ev.ID, StudentID: env.student().ID})
	if err != nil {
		t.Fatal(err)
	}

	reg, err := env.mgr.CancelRegistration(context.Background(), env.guardianActor(), res.Registration.ID)
	if err != nil {
		t.Fatalf("CancelRegistration() error = %v", err)
	}
	if reg.PaymentStatus != model.PaymentStateCancelled {
		t.Errorf("returned payment status = %s, want cancelled", reg.PaymentStatus)
	}
	if got := env.store.registration(reg.ID).PaymentStatus; got != model.PaymentStateCancelled {
		t.Errorf("stored payment status = %s, want cancelled", got)
	}
}

func TestMarkAttendance(t *testing.T) {
	env := newRegEnv(t)
	st := env.student()
	ev := env.event(0, nil)
	res, err := env.mgr.RegisterStudent(context.Background(), env.guardianActor(),
		model.RegisterRequest{EventID: ev.ID, StudentID: st.ID})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Registration.ID

	if _, err := env.mgr.MarkAttendance(context.Background(), env.guardianActor(), id, true); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("guardian mark error = %v, want Forbidden", err)
	}

	teacher := model.Actor{ID: env.teacher.ID, Role: model.RoleTeacher}
	reg, err := env.mgr.MarkAttendance(context.Background(), teacher, id, false)
	if err != nil {
		t.Fatalf("MarkAttendance() error = %v", err)
	}
	if reg.Status != model.RegistrationNoShow {
		t.Errorf("status = %s, want no_show", reg.Status)
	}

	if _, err := env.mgr.MarkAttendance(context.Background(), teacher, id, true); !errors.Is(err, model.ErrInvalidRegistrationState) {
		t.Errorf("second mark error = %v, want InvalidRegistrationState", err)
	}
}

func TestSendEventReminders(t *testing.T) {
	env := newRegEnv(t)
	soon := env.store.addEvent(model.Event{Title: "Sports Day", StartDate: env.now.Add(12 * time.Hour), Status: model.EventActive})
	later := env.store.addEvent(model.Event{Title: "Play", StartDate: env.now.Add(72 * time.Hour), Status: model.EventActive})
	for _, ev := range []*model.Event{soon, later} {
		if _, err := env.mgr.RegisterStudent(context.Background(), env.admin,
			model.RegisterRequest{EventID: ev.ID, StudentID: env.student().ID}); err != nil {
			t.Fatal(err)
		}
	}
	env.notifier.Sent = nil

	res, err := env.mgr.SendEventReminders(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("SendEventReminders() error = %v", err)
	}
	if res.Matched != 1 || len(res.Outcomes) != 1 || !res.Outcomes[0].Success {
		t.Fatalf("sweep = %+v, want one successful reminder", res)
	}
	if kinds := env.notifier.kinds(); len(kinds) != 1 || kinds[0] != model.NotifyEventReminder {
		t.Errorf("notifications = %v", kinds)
	}

	// Re-running sends the reminder again.
	if _, err := env.mgr.SendEventReminders(context.Background(), 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := len(env.notifier.kinds()); got != 2 {
		t.Errorf("notifications after second run = %d, want 2", got)
	}
}
