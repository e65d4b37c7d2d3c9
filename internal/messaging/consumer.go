package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// Dispatcher delivers one notification over every channel the recipient has.
type Dispatcher interface {
	Dispatch(ctx context.Context, n model.Notification, r model.Recipient) (model.DispatchResult, error)
}

type verdict int

const (
	verdictAck    verdict = iota // done, successfully or not
	verdictRetry                 // every channel failed, publish again
	verdictReject                // the body can never be dispatched
)

// Consumer feeds queued jobs to a Dispatcher. A job whose every channel
// failed is published again with its attempt count raised, up to
// maxAttempts; a job with at least one delivered channel is never repeated.
type Consumer struct {
	broker      *Broker
	dispatcher  Dispatcher
	maxAttempts int
	prefetch    int
	timeout     time.Duration
	log         *slog.Logger
}

func NewConsumer(b *Broker, d Dispatcher, maxAttempts, prefetch int, timeout time.Duration, log *slog.Logger) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Consumer{
		broker:      b,
		dispatcher:  d,
		maxAttempts: maxAttempts,
		prefetch:    prefetch,
		timeout:     timeout,
		log:         log,
	}
}

// Run consumes until ctx ends or the broker is closed. A lost connection is
// dialled again with backoff, and unacked jobs are redelivered by RabbitMQ.
func (c *Consumer) Run(ctx context.Context) error {
	wait := minReconnectInterval
	for {
		consumed, err := c.consume(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrBrokerClosed):
			return err
		}
		if consumed {
			wait = minReconnectInterval
		}
		c.log.Warn("notifier lost the broker, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		wait = nextBackoff(wait)
	}
}

// consume runs one subscription until the delivery channel closes. consumed
// reports whether the subscription was established.
func (c *Consumer) consume(ctx context.Context) (consumed bool, err error) {
	ch, err := c.broker.channel()
	if err != nil {
		return false, err
	}
	if c.prefetch > 0 {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			return false, err
		}
	}
	deliveries, err := ch.Consume(
		c.broker.queueName,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return false, err
	}

	c.log.Info("notifier consuming", slog.String("queue", c.broker.queueName))
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("delivery channel closed by broker")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	v, job := c.process(ctx, d.Body)
	switch v {
	case verdictReject:
		_ = d.Nack(false, false)
	case verdictRetry:
		job.Attempt++
		if err := c.broker.publish(ctx, job); err != nil {
			c.log.Error("requeue notification job",
				slog.String("notification_id", job.Notification.ID),
				slog.String("error", err.Error()))
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
	default:
		_ = d.Ack(false)
	}
}

// process dispatches one message body and decides what becomes of it.
func (c *Consumer) process(ctx context.Context, body []byte) (verdict, Job) {
	job, err := decodeJob(body)
	if err != nil {
		c.log.Error("dropping notification job", slog.String("error", err.Error()))
		return verdictReject, Job{}
	}

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.dispatcher.Dispatch(dctx, job.Notification, job.Recipient)
	if err != nil {
		if model.KindOf(err) == model.KindValidation {
			c.log.Error("dropping notification job",
				slog.String("notification_id", job.Notification.ID),
				slog.String("error", err.Error()))
			return verdictReject, job
		}
		return c.retryOrGiveUp(job, err.Error())
	}
	if !res.Success {
		return c.retryOrGiveUp(job, "every notification channel failed")
	}
	return verdictAck, job
}

func (c *Consumer) retryOrGiveUp(job Job, reason string) (verdict, Job) {
	if job.Attempt+1 >= c.maxAttempts {
		c.log.Warn("notification undelivered, giving up",
			slog.String("notification_id", job.Notification.ID),
			slog.String("kind", string(job.Notification.Kind)),
			slog.Int("attempts", job.Attempt+1),
			slog.String("reason", reason))
		return verdictAck, job
	}
	return verdictRetry, job
}
