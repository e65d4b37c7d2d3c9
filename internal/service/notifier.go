package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

var errNoGuardian = errors.New("registration has no guardian to notify")

// AsyncNotifier delivers each notification in its own goroutine so the
// triggering operation never waits on transports. The delivery context is
// detached from the caller's, bounded by timeout.
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewAsyncNotifier(next Notifier, timeout time.Duration, log *slog.Logger) *AsyncNotifier {
	return &AsyncNotifier{next: next, timeout: timeout, log: log}
}

func (a *AsyncNotifier) Notify(ctx context.Context, n model.Notification, r model.Recipient) error {
	dctx := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(dctx, a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, n, r); err != nil {
			a.log.Warn("notification not delivered",
				slog.String("notification_id", n.ID),
				slog.String("kind", string(n.Kind)),
				slog.String("account_id", r.AccountID),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Wait blocks until every notification handed off so far has finished.
func (a *AsyncNotifier) Wait() { a.wg.Wait() }

func newNotification(kind model.NotificationKind, data model.NotificationData) model.Notification {
	return model.Notification{ID: uuid.New().String(), Kind: kind, Data: data}
}

func recipientOf(a *model.Account) model.Recipient {
	return model.Recipient{AccountID: a.ID, Name: a.FullName(), Email: a.Email, Phone: a.Phone}
}

// daysUntil rounds the time left until t up to whole days.
func daysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + 24*time.Hour - 1) / (24 * time.Hour))
}
