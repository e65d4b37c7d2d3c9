package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// RegistrationRepository handles persistence for students, events and
// registrations.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// GetStudent returns a single student or model.ErrNotFound.
func (r *RegistrationRepository) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	var (
		s                     model.Student
		teacherID, guardianID *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, first_name, last_name, grade, section, class_teacher_id, parent_id, is_active
		 FROM students WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.FirstName, &s.LastName, &s.Grade, &s.Section, &teacherID, &guardianID, &s.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	s.ClassTeacherID = deref(teacherID)
	s.GuardianID = deref(guardianID)
	return &s, nil
}

const eventColumns = `id, title, location, start_date, registration_deadline, fee,
	max_participants, current_participants, status`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Title, &e.Location, &e.StartDate, &e.RegistrationDeadline, &e.Fee,
		&e.MaxParticipants, &e.CurrentParticipants, &e.Status)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateRegistration books a place for reg.StudentID on reg.EventID and
// inserts the registration in a single transaction. It returns the event as
// seen under the lock, with the counter already incremented.
//
// The event row is locked with SELECT … FOR UPDATE so concurrent bookings for
// the same event are serialised, and the counter is only incremented by a
// conditional UPDATE that re-checks capacity.
// Duplicate detection is backed by the partial unique index on
// (event_id, student_id), which also covers registrations of the same student
// racing on different connections.
func (r *RegistrationRepository) CreateRegistration(ctx context.Context, reg *model.Registration, now time.Time) (*model.Event, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	event, err := scanEvent(tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`,
		reg.EventID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("lock event row: %w", err)
	}

	if event.Status != model.EventActive {
		return nil, model.ErrEventNotActive
	}
	if event.RegistrationDeadline != nil && now.After(*event.RegistrationDeadline) {
		return nil, model.ErrRegistrationClosed
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM event_registrations
		   WHERE event_id = $1 AND student_id = $2 AND status <> 'cancelled')`,
		reg.EventID, reg.StudentID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return nil, model.ErrDuplicateRegistration
	}

	tag, err := tx.Exec(ctx,
		`UPDATE events SET current_participants = current_participants + 1
		 WHERE id = $1 AND (max_participants IS NULL OR current_participants < max_participants)`,
		reg.EventID,
	)
	if err != nil {
		return nil, fmt.Errorf("increment current_participants: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, model.ErrEventFull
	}
	event.CurrentParticipants++

	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	reg.Status = model.RegistrationRegistered
	reg.PaymentStatus = model.PaymentStatePending
	reg.PaymentAmount = event.Fee
	reg.CreatedAt = now.UTC()

	_, err = tx.Exec(ctx,
		`INSERT INTO event_registrations
		   (id, event_id, student_id, parent_id, registered_by, status, payment_status, payment_amount, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		reg.ID, reg.EventID, reg.StudentID, nullable(reg.GuardianID), reg.RegisteredBy,
		reg.Status, reg.PaymentStatus, reg.PaymentAmount, reg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrDuplicateRegistration
		}
		return nil, fmt.Errorf("insert registration: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return event, nil
}

const registrationColumns = `id, event_id, student_id, parent_id, registered_by, status,
	payment_status, payment_amount, created_at`

// GetRegistration returns a single registration or model.ErrNotFound.
func (r *RegistrationRepository) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	var (
		reg        model.Registration
		guardianID *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM event_registrations WHERE id = $1`,
		id,
	).Scan(&reg.ID, &reg.EventID, &reg.StudentID, &guardianID, &reg.RegisteredBy, &reg.Status,
		&reg.PaymentStatus, &reg.PaymentAmount, &reg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	reg.GuardianID = deref(guardianID)
	return &reg, nil
}

// CancelRegistration marks a registered booking cancelled and releases its
// place. A payment status still pending becomes cancelled. Both writes
// commit together.
func (r *RegistrationRepository) CancelRegistration(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var eventID string
	err = tx.QueryRow(ctx,
		`UPDATE event_registrations
		 SET status = 'cancelled',
		     payment_status = CASE WHEN payment_status = 'pending' THEN 'cancelled' ELSE payment_status END,
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'registered'
		 RETURNING event_id`,
		id,
	).Scan(&eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrState(ctx, id)
		}
		return fmt.Errorf("cancel registration: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE events SET current_participants = GREATEST(current_participants - 1, 0) WHERE id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("decrement current_participants: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SetAttendance moves a registered booking to attended or no_show.
func (r *RegistrationRepository) SetAttendance(ctx context.Context, id string, status model.RegistrationStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE event_registrations SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'registered'`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("set attendance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrState(ctx, id)
	}
	return nil
}

// missingOrState tells a missing registration apart from one whose status
// did not allow the update.
func (r *RegistrationRepository) missingOrState(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_registrations WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check registration: %w", err)
	}
	if !exists {
		return model.ErrNotFound
	}
	return model.ErrInvalidRegistrationState
}

const dueQuery = `SELECT
	r.id, r.event_id, r.student_id, r.parent_id, r.registered_by, r.status, r.payment_status, r.payment_amount, r.created_at,
	e.id, e.title, e.location, e.start_date, e.registration_deadline, e.fee, e.max_participants, e.current_participants, e.status,
	s.id, s.first_name, s.last_name, s.grade, s.section, s.class_teacher_id, s.parent_id, s.is_active,
	u.id, u.email, u.phone, u.first_name, u.last_name
	FROM event_registrations r
	JOIN events e ON e.id = r.event_id
	JOIN students s ON s.id = r.student_id
	LEFT JOIN users u ON u.id = r.parent_id`

func scanDue(row pgx.Row) (model.DueRegistration, error) {
	var (
		d                                  model.DueRegistration
		regGuardian, teacherID, studentPar *string
		uID, uEmail, uPhone, uFirst, uLast *string
	)
	err := row.Scan(
		&d.Registration.ID, &d.Registration.EventID, &d.Registration.StudentID, &regGuardian,
		&d.Registration.RegisteredBy, &d.Registration.Status, &d.Registration.PaymentStatus,
		&d.Registration.PaymentAmount, &d.Registration.CreatedAt,
		&d.Event.ID, &d.Event.Title, &d.Event.Location, &d.Event.StartDate, &d.Event.RegistrationDeadline,
		&d.Event.Fee, &d.Event.MaxParticipants, &d.Event.CurrentParticipants, &d.Event.Status,
		&d.Student.ID, &d.Student.FirstName, &d.Student.LastName, &d.Student.Grade, &d.Student.Section,
		&teacherID, &studentPar, &d.Student.IsActive,
		&uID, &uEmail, &uPhone, &uFirst, &uLast,
	)
	if err != nil {
		return d, err
	}
	d.Registration.GuardianID = deref(regGuardian)
	d.Student.ClassTeacherID = deref(teacherID)
	d.Student.GuardianID = deref(studentPar)
	d.Guardian = model.Account{
		ID:        deref(uID),
		Email:     deref(uEmail),
		Phone:     deref(uPhone),
		FirstName: deref(uFirst),
		LastName:  deref(uLast),
		Role:      model.RoleGuardian,
	}
	return d, nil
}

func (r *RegistrationRepository) listDue(ctx context.Context, query string, args ...any) ([]model.DueRegistration, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DueRegistration
	for rows.Next() {
		d, err := scanDue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDueRegistration returns a registration with its event, student and
// guardian, or model.ErrNotFound.
func (r *RegistrationRepository) GetDueRegistration(ctx context.Context, id string) (*model.DueRegistration, error) {
	d, err := scanDue(r.db.QueryRow(ctx, dueQuery+` WHERE r.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get registration details: %w", err)
	}
	return &d, nil
}

// ListOverduePayments returns registrations still awaiting payment whose
// event deadline has passed but whose event has not started yet.
func (r *RegistrationRepository) ListOverduePayments(ctx context.Context, now time.Time) ([]model.DueRegistration, error) {
	out, err := r.listDue(ctx, dueQuery+`
		WHERE r.payment_status = 'pending'
		  AND r.status = 'registered'
		  AND e.registration_deadline IS NOT NULL
		  AND e.registration_deadline < $1
		  AND e.start_date > $1
		ORDER BY e.start_date ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue payments: %w", err)
	}
	return out, nil
}

// ListUpcomingRegistrations returns active registrations with a guardian for
// active events starting in [from, to).
func (r *RegistrationRepository) ListUpcomingRegistrations(ctx context.Context, from, to time.Time) ([]model.DueRegistration, error) {
	out, err := r.listDue(ctx, dueQuery+`
		WHERE r.status = 'registered'
		  AND r.parent_id IS NOT NULL
		  AND e.status = 'active'
		  AND e.start_date >= $1
		  AND e.start_date < $2
		ORDER BY e.start_date ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list upcoming registrations: %w", err)
	}
	return out, nil
}
