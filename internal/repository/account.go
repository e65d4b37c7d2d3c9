package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// AccountRepository owns the login throttling and reset token columns of
// users.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository constructs an AccountRepository.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, email, phone, first_name, last_name, role, password_hash, is_active,
	login_attempts, locked_until, password_reset_token, password_reset_expires, last_login`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a                 model.Account
		phone, resetToken *string
		hash              string
	)
	err := row.Scan(&a.ID, &a.Email, &phone, &a.FirstName, &a.LastName, &a.Role, &hash, &a.IsActive,
		&a.FailedAttempts, &a.LockedUntil, &resetToken, &a.ResetTokenExpiresAt, &a.LastLogin)
	if err != nil {
		return nil, err
	}
	a.Phone = deref(phone)
	a.ResetTokenHash = deref(resetToken)
	a.PasswordHash = []byte(hash)
	return &a, nil
}

func (r *AccountRepository) getOne(ctx context.Context, op, query string, arg any) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// GetAccountByID returns an account or model.ErrNotFound.
func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return r.getOne(ctx, "get account", `SELECT `+accountColumns+` FROM users WHERE id = $1`, id)
}

// GetAccountByEmail looks an account up case-insensitively.
func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.getOne(ctx, "get account by email",
		`SELECT `+accountColumns+` FROM users WHERE lower(email) = $1`,
		strings.ToLower(strings.TrimSpace(email)))
}

// RecordFailedLogin counts one failed attempt in a single statement so two
// concurrent failures can never both miss the threshold. An expired lockout
// restarts the count at 1. Reaching threshold sets locked_until to
// now + lockout. It returns the post-increment count and lock.
func (r *AccountRepository) RecordFailedLogin(ctx context.Context, id string, now time.Time, threshold int, lockout time.Duration) (int, *time.Time, error) {
	var (
		attempts    int
		lockedUntil *time.Time
	)
	err := r.db.QueryRow(ctx,
		`WITH next AS (
		   SELECT id,
		          CASE WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
		               ELSE login_attempts + 1 END AS attempts,
		          CASE WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN NULL
		               ELSE locked_until END AS locked_until
		   FROM users WHERE id = $1 FOR UPDATE
		 )
		 UPDATE users u
		 SET login_attempts = next.attempts,
		     locked_until = CASE WHEN next.attempts >= $3 THEN $4::timestamptz ELSE next.locked_until END,
		     updated_at = NOW()
		 FROM next WHERE u.id = next.id
		 RETURNING u.login_attempts, u.locked_until`,
		id, now, threshold, now.Add(lockout),
	).Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, model.ErrNotFound
		}
		return 0, nil, fmt.Errorf("record failed login: %w", err)
	}
	return attempts, lockedUntil, nil
}

// RecordSuccessfulLogin clears the throttling state and stamps last_login.
func (r *AccountRepository) RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET login_attempts = 0, locked_until = NULL, last_login = $2, updated_at = NOW()
		 WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	return nil
}

// SetResetToken stores the hash of a new reset token, replacing any previous one.
func (r *AccountRepository) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET password_reset_token = $2, password_reset_expires = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, tokenHash, expires,
	)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken swaps the password of the account holding an unexpired
// tokenHash, clearing the token and any lockout in the same statement. It
// reports false when no account matched.
func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash string, passwordHash []byte, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET password_hash = $2,
		     password_reset_token = NULL,
		     password_reset_expires = NULL,
		     login_attempts = 0,
		     locked_until = NULL,
		     updated_at = NOW()
		 WHERE password_reset_token = $1 AND password_reset_expires > $3`,
		tokenHash, string(passwordHash), now,
	)
	if err != nil {
		return false, fmt.Errorf("consume reset token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
