package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/Shivanand-hulikatti/school-events/internal/config"
	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

const (
	minReconnectInterval = time.Second
	maxReconnectInterval = time.Minute
)

// ErrBrokerClosed is returned by a Broker after Close.
var ErrBrokerClosed = errors.New("rabbitmq broker closed")

// Broker publishes and consumes notification jobs on one durable queue. A
// dropped connection is dialled again on the next publish or consume.
type Broker struct {
	url       string
	queueName string
	cb        *gobreaker.CircuitBreaker
	log       *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

func NewBroker(amqpURL, queueName string, log *slog.Logger) (*Broker, error) {
	b := &Broker{
		url:       amqpURL,
		queueName: queueName,
		cb:        config.NewCircuitBreaker(config.BreakerRabbitMQ, log),
		log:       log,
	}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// connect dials, opens a channel and declares the queue. The caller holds
// b.mu or owns b exclusively.
func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	_, err = ch.QueueDeclare(
		b.queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	b.conn, b.ch = conn, ch
	go b.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return nil
}

// watch logs a connection lost to the broker. A graceful Close sends nothing.
func (b *Broker) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		b.log.Warn("rabbitmq connection lost", slog.String("error", err.Error()))
	}
}

// channel returns an open channel, dialling again if the connection dropped.
func (b *Broker) channel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	if b.ch != nil && !b.ch.IsClosed() {
		return b.ch, nil
	}
	if b.conn != nil && !b.conn.IsClosed() {
		_ = b.conn.Close()
	}
	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("reconnect rabbitmq: %w", err)
	}
	b.log.Info("rabbitmq reconnected", slog.String("queue", b.queueName))
	return b.ch, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.ch != nil && !b.ch.IsClosed() {
		if err := b.ch.Close(); err != nil {
			return err
		}
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn.Close()
	}
	return nil
}

// Notify queues n for r. It returns once the broker has the message; delivery
// happens in the notifier worker.
func (b *Broker) Notify(ctx context.Context, n model.Notification, r model.Recipient) error {
	return b.publish(ctx, Job{Notification: n, Recipient: r})
}

func (b *Broker) publish(ctx context.Context, j Job) error {
	body, err := encodeJob(j)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) <= 0 {
			return ctx.Err()
		}
	}

	// Redials count against the breaker.
	_, err = b.cb.Execute(func() (interface{}, error) {
		ch, err := b.channel()
		if err != nil {
			return nil, err
		}
		err = ch.PublishWithContext(
			ctx,
			"",          // exchange (default)
			b.queueName, // routing key == queue name
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    j.Notification.ID,
				Body:         body,
			},
		)
		return nil, err
	})
	return err
}

// nextBackoff doubles d up to maxReconnectInterval.
func nextBackoff(d time.Duration) time.Duration {
	return min(2*d, maxReconnectInterval)
}
