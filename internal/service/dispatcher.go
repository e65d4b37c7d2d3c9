package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/school-events/internal/metrics"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// Dispatcher fans one notification out to email, SMS and in-app delivery.
// Channels run concurrently and independently: a failing or panicking channel
// is recorded as a failed result and never stops the others.
type Dispatcher struct {
	email     EmailSender
	sms       SMSSender
	store     NotificationStore
	appURL    string
	bulkDelay time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

func NewDispatcher(email EmailSender, sms SMSSender, store NotificationStore, appURL string, bulkDelay time.Duration, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		email:     email,
		sms:       sms,
		store:     store,
		appURL:    strings.TrimRight(appURL, "/"),
		bulkDelay: bulkDelay,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Dispatch renders n and attempts every channel r can be reached on: email
// when r has an address, SMS when r has a phone, in-app always. The result is
// successful when at least one channel succeeded. An error is returned only
// for input that cannot be dispatched at all.
func (d *Dispatcher) Dispatch(ctx context.Context, n model.Notification, r model.Recipient) (model.DispatchResult, error) {
	result := model.DispatchResult{NotificationID: n.ID, Kind: n.Kind, AccountID: r.AccountID}
	if !n.Kind.Valid() {
		return result, model.Validation(fmt.Sprintf("unknown notification kind %q", n.Kind))
	}
	if err := validateStruct(r); err != nil {
		return result, err
	}

	start := d.now()
	defer func() { d.metrics.ObserveDispatch(time.Since(start).Seconds()) }()

	msg, err := render(n, d.appURL)
	if err != nil {
		return result, fmt.Errorf("render notification: %w", err)
	}

	// A nil sender means the channel is switched off in configuration.
	caps := r.Capabilities()
	caps.HasEmail = caps.HasEmail && d.email != nil
	caps.HasPhone = caps.HasPhone && d.sms != nil
	type channelTask struct {
		channel model.Channel
		send    func(context.Context) model.ChannelResult
	}
	tasks := []channelTask{{model.ChannelInApp, func(ctx context.Context) model.ChannelResult { return d.sendInApp(ctx, n, r, msg) }}}
	if caps.HasEmail {
		tasks = append(tasks, channelTask{model.ChannelEmail, func(ctx context.Context) model.ChannelResult { return d.sendEmail(ctx, n, r, msg) }})
	}
	if caps.HasPhone {
		tasks = append(tasks, channelTask{model.ChannelSMS, func(ctx context.Context) model.ChannelResult { return d.sendSMS(ctx, n, r, msg) }})
	}

	// Each goroutine writes only its own slot. No task returns an error, so
	// the group never cancels its siblings.
	results := make([]model.ChannelResult, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					d.log.Error("notification channel panicked",
						slog.String("notification_id", n.ID),
						slog.String("channel", string(task.channel)),
						slog.Any("panic", p))
					results[i] = model.ChannelResult{Channel: task.channel, Status: model.DeliveryFailed, Error: fmt.Sprintf("panic: %v", p)}
				}
			}()
			results[i] = task.send(ctx)
			return nil
		})
	}
	_ = g.Wait()

	result.Channels = results
	for _, c := range results {
		d.metrics.Delivery(string(c.Channel), string(c.Status))
		if c.Succeeded() {
			result.Success = true
		} else {
			d.log.Warn("notification channel failed",
				slog.String("notification_id", n.ID),
				slog.String("kind", string(n.Kind)),
				slog.String("account_id", r.AccountID),
				slog.String("channel", string(c.Channel)),
				slog.String("error", c.Error))
		}
	}
	return result, nil
}

// Notify dispatches synchronously and reports a NotificationChannelFailure
// when no channel succeeded.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification, r model.Recipient) error {
	res, err := d.Dispatch(ctx, n, r)
	if err != nil {
		return err
	}
	if !res.Success {
		return model.NewError(model.KindNotificationChannelFailure, "every notification channel failed", nil)
	}
	return nil
}

// BulkDispatch sends n to every recipient in turn, pausing bulkDelay between
// sends to stay under transport rate limits. It stops early if ctx ends.
func (d *Dispatcher) BulkDispatch(ctx context.Context, n model.Notification, recipients []model.Recipient) []model.DispatchResult {
	out := make([]model.DispatchResult, 0, len(recipients))
	for i, r := range recipients {
		if err := pace(ctx, i, d.bulkDelay); err != nil {
			break
		}
		res, err := d.Dispatch(ctx, n, r)
		if err != nil {
			d.log.Warn("bulk dispatch skipped recipient",
				slog.String("account_id", r.AccountID),
				slog.String("error", err.Error()))
		}
		out = append(out, res)
	}
	return out
}

func (d *Dispatcher) sendInApp(ctx context.Context, n model.Notification, r model.Recipient, msg rendered) model.ChannelResult {
	row := &model.InAppNotification{
		NotificationID: n.ID,
		AccountID:      r.AccountID,
		Kind:           n.Kind,
		Title:          msg.Title,
		Message:        msg.Message,
		Type:           msg.Meta.typ,
		Category:       msg.Meta.category,
		ActionURL:      msg.Meta.actionURL,
		CreatedAt:      d.now().UTC(),
	}
	if err := d.store.SaveInApp(ctx, row); err != nil {
		return model.ChannelResult{Channel: model.ChannelInApp, Status: model.DeliveryFailed, Error: err.Error()}
	}
	return model.ChannelResult{Channel: model.ChannelInApp, Status: model.DeliveryDelivered, MessageID: row.ID}
}

func (d *Dispatcher) sendEmail(ctx context.Context, n model.Notification, r model.Recipient, msg rendered) model.ChannelResult {
	res := d.email.Send(ctx, r.Email, msg.Subject, msg.HTML)
	out := model.ChannelResult{Channel: model.ChannelEmail, Status: model.DeliverySent, MessageID: res.MessageID}
	if !res.Success {
		out.Status, out.Error = model.DeliveryFailed, res.Error
	}
	d.audit(ctx, &model.NotificationRecord{
		NotificationID: n.ID,
		Kind:           n.Kind,
		Channel:        model.ChannelEmail,
		AccountID:      r.AccountID,
		Destination:    r.Email,
		Subject:        msg.Subject,
		Body:           msg.HTML,
		Status:         out.Status,
		Error:          out.Error,
		MessageID:      out.MessageID,
		CreatedAt:      d.now().UTC(),
	})
	return out
}

func (d *Dispatcher) sendSMS(ctx context.Context, n model.Notification, r model.Recipient, msg rendered) model.ChannelResult {
	res := d.sms.Send(ctx, r.Phone, msg.SMS)
	out := model.ChannelResult{Channel: model.ChannelSMS, Status: model.DeliverySent, MessageID: res.MessageID, Cost: res.Cost}
	rec := &model.NotificationRecord{
		NotificationID: n.ID,
		Kind:           n.Kind,
		Channel:        model.ChannelSMS,
		AccountID:      r.AccountID,
		Destination:    r.Phone,
		Body:           msg.SMS,
		MessageID:      res.MessageID,
		Cost:           res.Cost,
		CreatedAt:      d.now().UTC(),
	}
	if res.Success {
		delivered := rec.CreatedAt
		rec.DeliveredAt = &delivered
	} else {
		out.Status, out.Error = model.DeliveryFailed, res.Error
	}
	rec.Status, rec.Error = out.Status, out.Error
	d.audit(ctx, rec)
	return out
}

// audit writes the delivery log row. A failed write is logged; it does not
// change the outcome of a send that already happened.
func (d *Dispatcher) audit(ctx context.Context, rec *model.NotificationRecord) {
	if err := d.store.LogDelivery(ctx, rec); err != nil {
		d.log.Error("write delivery log",
			slog.String("notification_id", rec.NotificationID),
			slog.String("channel", string(rec.Channel)),
			slog.String("error", err.Error()))
	}
}

// pace sleeps delay before every send but the first.
func pace(ctx context.Context, i int, delay time.Duration) error {
	if i == 0 || delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
