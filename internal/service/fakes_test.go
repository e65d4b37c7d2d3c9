package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/school-events/internal/gateway"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
	"github.com/Shivanand-hulikatti/school-events/internal/transport"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// memStore is an in-memory store for students, events, registrations,
// payments and accounts. Every method holds the lock for its whole body, so
// each call is atomic the way a database transaction is.
type memStore struct {
	mu            sync.Mutex
	students      map[string]*model.Student
	events        map[string]*model.Event
	registrations map[string]*model.Registration
	payments      map[string]*model.Payment
	paymentOrder  []string
	accounts      map[string]*model.Account

	// rowLock stands in for the payment row lock of WithLockedPayment.
	rowLock sync.Mutex

	// error injection
	CreatePaymentErr error
	TransitionErr    error

	TransitionCalls []model.PaymentTransition
}

func newMemStore() *memStore {
	return &memStore{
		students:      map[string]*model.Student{},
		events:        map[string]*model.Event{},
		registrations: map[string]*model.Registration{},
		payments:      map[string]*model.Payment{},
		accounts:      map[string]*model.Account{},
	}
}

var (
	_ RegistrationStore  = (*memStore)(nil)
	_ RegistrationReader = (*memStore)(nil)
	_ PaymentStore       = (*memStore)(nil)
	_ AccountLookup      = (*memStore)(nil)
)

func (s *memStore) addAccount(a model.Account) *model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.accounts[a.ID] = &a
	return &a
}

func (s *memStore) addStudent(st model.Student) *model.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	s.students[st.ID] = &st
	return &st
}

func (s *memStore) addEvent(e model.Event) *model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.events[e.ID] = &e
	return &e
}

func (s *memStore) event(id string) model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

func (s *memStore) registration(id string) model.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.registrations[id]
}

func (s *memStore) payment(id string) model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[id]
}

func (s *memStore) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *memStore) CreateRegistration(ctx context.Context, reg *model.Registration, now time.Time) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[reg.EventID]
	if !ok {
		return nil, model.ErrNotFound
	}
	if e.Status != model.EventActive {
		return nil, model.ErrEventNotActive
	}
	if e.RegistrationDeadline != nil && now.After(*e.RegistrationDeadline) {
		return nil, model.ErrRegistrationClosed
	}
	for _, r := range s.registrations {
		if r.EventID == reg.EventID && r.StudentID == reg.StudentID && r.Status != model.RegistrationCancelled {
			return nil, model.ErrDuplicateRegistration
		}
	}
	if e.MaxParticipants != nil && e.CurrentParticipants >= *e.MaxParticipants {
		return nil, model.ErrEventFull
	}
	e.CurrentParticipants++

	reg.ID = uuid.NewString()
	reg.Status = model.RegistrationRegistered
	reg.PaymentStatus = model.PaymentStatePending
	reg.PaymentAmount = e.Fee
	reg.CreatedAt = now
	cp := *reg
	s.registrations[reg.ID] = &cp
	ev := *e
	return &ev, nil
}

func (s *memStore) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) CancelRegistration(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok {
		return model.ErrNotFound
	}
	if r.Status != model.RegistrationRegistered {
		return model.ErrInvalidRegistrationState
	}
	r.Status = model.RegistrationCancelled
	if r.PaymentStatus == model.PaymentStatePending {
		r.PaymentStatus = model.PaymentStateCancelled
	}
	if e := s.events[r.EventID]; e.CurrentParticipants > 0 {
		e.CurrentParticipants--
	}
	return nil
}

func (s *memStore) SetAttendance(ctx context.Context, id string, status model.RegistrationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok {
		return model.ErrNotFound
	}
	if r.Status != model.RegistrationRegistered {
		return model.ErrInvalidRegistrationState
	}
	r.Status = status
	return nil
}

func (s *memStore) due(r *model.Registration) model.DueRegistration {
	d := model.DueRegistration{Registration: *r, Event: *s.events[r.EventID], Student: *s.students[r.StudentID]}
	if g, ok := s.accounts[r.GuardianID]; ok {
		d.Guardian = *g
	}
	return d
}

func (s *memStore) GetDueRegistration(ctx context.Context, id string) (*model.DueRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	d := s.due(r)
	return &d, nil
}

func (s *memStore) ListOverduePayments(ctx context.Context, now time.Time) ([]model.DueRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DueRegistration
	for _, r := range s.registrations {
		e := s.events[r.EventID]
		if r.PaymentStatus == model.PaymentStatePending && r.Status == model.RegistrationRegistered &&
			e.RegistrationDeadline != nil && e.RegistrationDeadline.Before(now) && e.StartDate.After(now) {
			out = append(out, s.due(r))
		}
	}
	return out, nil
}

func (s *memStore) ListUpcomingRegistrations(ctx context.Context, from, to time.Time) ([]model.DueRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DueRegistration
	for _, r := range s.registrations {
		e := s.events[r.EventID]
		if r.Status == model.RegistrationRegistered && r.GuardianID != "" && e.Status == model.EventActive &&
			!e.StartDate.Before(from) && e.StartDate.Before(to) {
			out = append(out, s.due(r))
		}
	}
	return out, nil
}

func (s *memStore) CreatePayment(ctx context.Context, p *model.Payment, regState model.PaymentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreatePaymentErr != nil {
		return s.CreatePaymentErr
	}
	for _, other := range s.payments {
		if other.RegistrationID == p.RegistrationID && other.Status != model.PaymentFailed {
			return model.ErrInvalidPaymentState
		}
	}
	p.ID = uuid.NewString()
	cp := *p
	s.payments[p.ID] = &cp
	s.paymentOrder = append(s.paymentOrder, p.ID)
	if regState != "" {
		s.registrations[p.RegistrationID].PaymentStatus = regState
	}
	return nil
}

func (s *memStore) SetGatewayReference(ctx context.Context, id, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return model.ErrNotFound
	}
	if p.Status != model.PaymentPending {
		return model.ErrInvalidPaymentState
	}
	p.GatewayReference = reference
	return nil
}

func (s *memStore) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.GatewayReference == reference && reference != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memStore) GetLatestPaymentForRegistration(ctx context.Context, registrationID string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.paymentOrder) - 1; i >= 0; i-- {
		if p := s.payments[s.paymentOrder[i]]; p.RegistrationID == registrationID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memStore) Transition(ctx context.Context, t model.PaymentTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(t)
}

func (s *memStore) transitionLocked(t model.PaymentTransition) error {
	s.TransitionCalls = append(s.TransitionCalls, t)
	if s.TransitionErr != nil {
		return s.TransitionErr
	}
	p, ok := s.payments[t.PaymentID]
	if !ok {
		return model.ErrNotFound
	}
	if p.Status != t.From {
		return model.ErrInvalidPaymentState
	}
	p.Apply(t)
	if t.RegistrationState != "" {
		s.registrations[p.RegistrationID].PaymentStatus = t.RegistrationState
	}
	return nil
}

func (s *memStore) WithLockedPayment(ctx context.Context, id string, fn func(p *model.Payment) (*model.PaymentTransition, error)) (*model.Payment, error) {
	s.rowLock.Lock()
	defer s.rowLock.Unlock()

	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := fn(p)
	if err != nil {
		return nil, err
	}
	if t != nil {
		s.mu.Lock()
		err = s.transitionLocked(*t)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		p.Apply(*t)
	}
	return p, nil
}

func (s *memStore) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// fakeGateway counts calls and can be told to fail or to report a status.
type fakeGateway struct {
	mu sync.Mutex

	CreateErr     error
	RetrieveErr   error
	RefundErr     error
	CaptureStatus gateway.Status
	// Block makes every call wait for ctx to end.
	Block bool
	// RefundDelay is slept inside Refund.
	RefundDelay time.Duration

	CreateCalls   int
	RetrieveCalls int
	RefundCalls   int
	RefundKeys    []string
}

var _ PaymentGateway = (*fakeGateway)(nil)

func (g *fakeGateway) Simulated() bool { return false }

func (g *fakeGateway) wait(ctx context.Context) error {
	if g.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amount model.Cents, currency string, metadata map[string]string) (gateway.Intent, error) {
	g.mu.Lock()
	g.CreateCalls++
	g.mu.Unlock()
	if err := g.wait(ctx); err != nil {
		return gateway.Intent{}, err
	}
	if g.CreateErr != nil {
		return gateway.Intent{}, g.CreateErr
	}
	return gateway.Intent{Reference: "pi_" + uuid.NewString(), ClientHandle: "secret"}, nil
}

func (g *fakeGateway) RetrieveIntent(ctx context.Context, reference string) (gateway.Capture, error) {
	g.mu.Lock()
	g.RetrieveCalls++
	g.mu.Unlock()
	if err := g.wait(ctx); err != nil {
		return gateway.Capture{}, err
	}
	if g.RetrieveErr != nil {
		return gateway.Capture{}, g.RetrieveErr
	}
	status := g.CaptureStatus
	if status == "" {
		status = gateway.StatusSucceeded
	}
	return gateway.Capture{Status: status}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, reference string, amount model.Cents, idempotencyKey string) (gateway.Refund, error) {
	g.mu.Lock()
	g.RefundCalls++
	g.RefundKeys = append(g.RefundKeys, idempotencyKey)
	g.mu.Unlock()
	time.Sleep(g.RefundDelay)
	if g.RefundErr != nil {
		return gateway.Refund{}, g.RefundErr
	}
	return gateway.Refund{ID: "re_1"}, nil
}

func (g *fakeGateway) refundCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.RefundCalls
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.CreateCalls + g.RetrieveCalls + g.RefundCalls
}

// recordingNotifier keeps every notification it is handed.
type recordingNotifier struct {
	mu  sync.Mutex
	Err error

	Sent []sentNotification
}

type sentNotification struct {
	N model.Notification
	R model.Recipient
}

var _ Notifier = (*recordingNotifier)(nil)

func (n *recordingNotifier) Notify(ctx context.Context, notification model.Notification, r model.Recipient) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, sentNotification{N: notification, R: r})
	return n.Err
}

func (n *recordingNotifier) kinds() []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.NotificationKind, 0, len(n.Sent))
	for _, s := range n.Sent {
		out = append(out, s.N.Kind)
	}
	return out
}

// fakeNotificationStore records in-app rows and delivery logs.
type fakeNotificationStore struct {
	mu sync.Mutex

	SaveInAppErr error

	InApp   []model.InAppNotification
	Records []model.NotificationRecord
}

var _ NotificationStore = (*fakeNotificationStore)(nil)

func (s *fakeNotificationStore) SaveInApp(ctx context.Context, n *model.InAppNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveInAppErr != nil {
		return s.SaveInAppErr
	}
	n.ID = uuid.NewString()
	s.InApp = append(s.InApp, *n)
	return nil
}

func (s *fakeNotificationStore) LogDelivery(ctx context.Context, rec *model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, *rec)
	return nil
}

type fakeEmail struct {
	mu     sync.Mutex
	Result transport.Result
	Panic  bool
	Sent   []string
}

func (f *fakeEmail) Send(ctx context.Context, to, subject, htmlBody string) transport.Result {
	if f.Panic {
		panic("smtp exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, htmlBody)
	return f.Result
}

type fakeSMS struct {
	mu   sync.Mutex
	Sent []string
}

func (f *fakeSMS) Send(ctx context.Context, toPhone, text string) transport.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, text)
	return transport.Result{Success: true, MessageID: "sms-1", Cost: 0.05}
}
