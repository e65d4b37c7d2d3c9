package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/Shivanand-hulikatti/school-events/internal/config"
	"github.com/Shivanand-hulikatti/school-events/internal/metrics"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

const resetTokenBytes = 32

// SecurityGuard throttles logins and issues single-use password reset tokens.
// It owns the throttling and token columns of accounts.
type SecurityGuard struct {
	accounts    AccountStore
	email       EmailSender
	appURL      string
	maxAttempts int
	lockout     time.Duration
	resetTTL    time.Duration
	bcryptCost  int
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewSecurityGuard builds a guard. email may be nil, in which case reset
// tokens are stored but not mailed.
func NewSecurityGuard(accounts AccountStore, email EmailSender, cfg config.Security, appURL string, m *metrics.Metrics, log *slog.Logger) *SecurityGuard {
	return &SecurityGuard{
		accounts:    accounts,
		email:       email,
		appURL:      strings.TrimRight(appURL, "/"),
		maxAttempts: cfg.MaxLoginAttempts,
		lockout:     cfg.Lockout,
		resetTTL:    cfg.ResetTokenTTL,
		bcryptCost:  cfg.BcryptCost,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

// Authenticate checks identifier and secret.
//
// A locked account is rejected with AccountLocked and the remaining lock
// time before the secret is looked at. A wrong secret counts one failed
// attempt; the attempt that reaches the threshold starts the lockout. Every
// wrong secret and every unknown identifier yields the same
// InvalidCredentials.
func (g *SecurityGuard) Authenticate(ctx context.Context, identifier, secret string) (*model.Account, error) {
	acc, err := g.accounts.GetAccountByEmail(ctx, identifier)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if err != nil || !acc.IsActive {
		// Spend the same bcrypt time as for a real account.
		_ = bcrypt.CompareHashAndPassword(g.dummy(), []byte(secret))
		g.metrics.Login("invalid_credentials")
		return nil, model.ErrInvalidCredentials
	}

	now := g.now()
	if acc.LockedAt(now) {
		g.metrics.Login("locked")
		return nil, model.Locked(acc.LockedUntil.Sub(now))
	}

	if bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(secret)) != nil {
		attempts, lockedUntil, err := g.accounts.RecordFailedLogin(ctx, acc.ID, now, g.maxAttempts, g.lockout)
		if err != nil {
			return nil, fmt.Errorf("record failed login: %w", err)
		}
		if lockedUntil != nil && attempts >= g.maxAttempts {
			g.log.Warn("account locked after repeated failed logins",
				slog.String("account_id", acc.ID),
				slog.Time("locked_until", *lockedUntil))
		}
		g.metrics.Login("invalid_credentials")
		return nil, model.ErrInvalidCredentials
	}

	if err := g.accounts.RecordSuccessfulLogin(ctx, acc.ID, now); err != nil {
		return nil, fmt.Errorf("record successful login: %w", err)
	}
	acc.FailedAttempts = 0
	acc.LockedUntil = nil
	acc.LastLogin = &now
	g.metrics.Login("ok")
	return acc, nil
}

func (g *SecurityGuard) dummy() []byte {
	g.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("school-events-placeholder"), g.bcryptCost)
		if err != nil {
			g.log.Error("generate placeholder hash", slog.String("error", err.Error()))
			return
		}
		g.dummyHash = h
	})
	return g.dummyHash
}

// IssueResetToken stores a fresh reset token for identifier, replacing any
// earlier one, and mails the reset link. It reports success whether or not
// the account exists. Store failures are logged, not returned.
func (g *SecurityGuard) IssueResetToken(ctx context.Context, identifier string) error {
	acc, err := g.accounts.GetAccountByEmail(ctx, identifier)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			g.log.Error("reset token lookup failed", slog.String("error", err.Error()))
		}
		return nil
	}
	if !acc.IsActive {
		return nil
	}

	token, err := newResetToken()
	if err != nil {
		g.log.Error("generate reset token", slog.String("error", err.Error()))
		return nil
	}
	if err := g.accounts.SetResetToken(ctx, acc.ID, hashToken(token), g.now().Add(g.resetTTL)); err != nil {
		g.log.Error("store reset token",
			slog.String("account_id", acc.ID),
			slog.String("error", err.Error()))
		return nil
	}

	g.mailResetLink(ctx, acc, token)
	return nil
}

var resetEmail = template.Must(template.New("reset").Parse(
	`<p>Dear {{.Name}},</p>
<p>We received a request to reset your password. The link below is valid for {{.Valid}}.</p>
<p><a href="{{.Link}}">Reset your password</a></p>
<p>If you did not ask for this, you can ignore this email.</p>`))

func (g *SecurityGuard) mailResetLink(ctx context.Context, acc *model.Account, token string) {
	if g.email == nil || acc.Email == "" {
		return
	}
	var body strings.Builder
	err := resetEmail.Execute(&body, map[string]string{
		"Name":  acc.FullName(),
		"Valid": g.resetTTL.String(),
		"Link":  g.appURL + "/reset-password?token=" + url.QueryEscape(token),
	})
	if err != nil {
		g.log.Error("render reset email", slog.String("error", err.Error()))
		return
	}
	if res := g.email.Send(ctx, acc.Email, "Password Reset Request", body.String()); !res.Success {
		g.log.Warn("reset email not sent",
			slog.String("account_id", acc.ID),
			slog.String("error", res.Error))
	}
}

// ConsumeResetToken replaces the password of the account holding token. The
// token is cleared on success, as is any lockout. An unknown, used or expired
// token yields TokenInvalidOrExpired.
func (g *SecurityGuard) ConsumeResetToken(ctx context.Context, token, newSecret string) error {
	if token == "" {
		return model.ErrTokenInvalidOrExpired
	}
	if err := checkPasswordStrength(newSecret); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newSecret), g.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ok, err := g.accounts.ConsumeResetToken(ctx, hashToken(token), hash, g.now())
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrTokenInvalidOrExpired
	}
	return nil
}

func newResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken is what is stored; the raw token only ever leaves in the email.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// checkPasswordStrength requires at least 8 characters and three of the four
// character classes.
func checkPasswordStrength(p string) error {
	if len([]rune(p)) < 8 {
		return model.Validation("password must be at least 8 characters long")
	}
	var upper, lower, digit, special bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, special} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return model.Validation("password must mix at least three of upper case, lower case, digits and symbols")
	}
	return nil
}
