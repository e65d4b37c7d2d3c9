package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// PaymentRepository handles persistence for payments.
type PaymentRepository struct {
	db *pgxpool.Pool
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, registration_id, amount, currency, status, transaction_id,
	gateway_response, processed_at, created_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p   model.Payment
		ref *string
	)
	err := row.Scan(&p.ID, &p.RegistrationID, &p.Amount, &p.Currency, &p.Status, &ref,
		&p.GatewayResponse, &p.ProcessedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.GatewayReference = deref(ref)
	return &p, nil
}

func (r *PaymentRepository) getOne(ctx context.Context, op, query string, arg any) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// CreatePayment inserts p in its current status. When regState is set the
// owning registration's payment status is written in the same transaction.
// A second payment that has not failed for the same registration yields
// model.ErrInvalidPaymentState.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p *model.Payment, regState model.PaymentState) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.GatewayResponse == nil {
		p.GatewayResponse = map[string]any{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO payments
		   (id, registration_id, amount, currency, status, transaction_id, gateway_response, processed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		p.ID, p.RegistrationID, p.Amount, p.Currency, p.Status, nullable(p.GatewayReference),
		p.GatewayResponse, p.ProcessedAt, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrInvalidPaymentState
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	if regState != "" {
		if err := setRegistrationPaymentState(ctx, tx, p.RegistrationID, regState); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SetGatewayReference stores the gateway reference of a pending payment.
func (r *PaymentRepository) SetGatewayReference(ctx context.Context, id, reference string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET transaction_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, reference,
	)
	if err != nil {
		return fmt.Errorf("set gateway reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrInvalidPaymentState
	}
	return nil
}

// GetPayment returns a payment by id or model.ErrNotFound.
func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return r.getOne(ctx, "get payment",
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

// GetPaymentByReference returns the payment holding a gateway reference.
func (r *PaymentRepository) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	return r.getOne(ctx, "get payment by reference",
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, reference)
}

// GetLatestPaymentForRegistration returns the newest payment of a
// registration, whatever its status.
func (r *PaymentRepository) GetLatestPaymentForRegistration(ctx context.Context, registrationID string) (*model.Payment, error) {
	return r.getOne(ctx, "get latest payment",
		`SELECT `+paymentColumns+` FROM payments
		 WHERE registration_id = $1
		 ORDER BY created_at DESC LIMIT 1`, registrationID)
}

// Transition applies t only if the payment is still in t.From, and updates
// the owning registration's payment status in the same transaction. A payment
// that has already moved on yields model.ErrInvalidPaymentState and nothing is
// written.
func (r *PaymentRepository) Transition(ctx context.Context, t model.PaymentTransition) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := applyTransition(ctx, tx, t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetPayment(ctx, t.PaymentID); getErr != nil {
				return getErr
			}
			return model.ErrInvalidPaymentState
		}
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithLockedPayment locks the payment row with SELECT ... FOR UPDATE and
// hands it to fn. A transition returned by fn is applied before the lock is
// released; an error from fn rolls everything back. Concurrent callers for
// the same payment run one after another, each seeing the state the previous
// one left. The returned payment reflects the applied transition.
func (r *PaymentRepository) WithLockedPayment(ctx context.Context, id string, fn func(p *model.Payment) (*model.PaymentTransition, error)) (*model.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("lock payment row: %w", err)
	}

	t, err := fn(p)
	if err != nil {
		return nil, err
	}
	if t != nil {
		if err := applyTransition(ctx, tx, *t); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, model.ErrInvalidPaymentState
			}
			return nil, err
		}
		p.Apply(*t)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return p, nil
}

// applyTransition runs the conditional payment update of t inside tx. It
// returns pgx.ErrNoRows when the payment is not in t.From.
func applyTransition(ctx context.Context, tx pgx.Tx, t model.PaymentTransition) error {
	detail := t.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode gateway detail: %w", err)
	}

	var registrationID string
	err = tx.QueryRow(ctx,
		`UPDATE payments
		 SET status = $3,
		     gateway_response = gateway_response || $4::jsonb,
		     processed_at = $5,
		     updated_at = NOW()
		 WHERE id = $1 AND status = $2
		 RETURNING registration_id`,
		t.PaymentID, t.From, t.To, string(raw), t.At,
	).Scan(&registrationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return fmt.Errorf("transition payment: %w", err)
	}

	if t.RegistrationState != "" {
		return setRegistrationPaymentState(ctx, tx, registrationID, t.RegistrationState)
	}
	return nil
}

func setRegistrationPaymentState(ctx context.Context, tx pgx.Tx, registrationID string, state model.PaymentState) error {
	_, err := tx.Exec(ctx,
		`UPDATE event_registrations SET payment_status = $2, updated_at = NOW() WHERE id = $1`,
		registrationID, state,
	)
	if err != nil {
		return fmt.Errorf("update registration payment status: %w", err)
	}
	return nil
}
