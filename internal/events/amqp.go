package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultDialTimeout = 2 * time.Second
	defaultRetryAfter  = 5 * time.Second
)

// ErrBrokerBackoff is returned without dialing while a recent dial failure is fresh.
var ErrBrokerBackoff = errors.New("rabbitmq: broker unavailable, backing off")

// AMQPPublisher publishes persistent JSON messages to a durable queue through the
// default exchange. The connection is opened lazily and reopened after a failure.
// Dials are bounded by the caller's deadline and never run under the publisher lock.
type AMQPPublisher struct {
	url         string
	queue       string
	dialTimeout time.Duration
	retryAfter  time.Duration
	now         func() time.Time

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	failedAt time.Time
}

func NewAMQPPublisher(url, queue string) *AMQPPublisher {
	if queue == "" {
		queue = DefaultClaimQueue
	}
	return &AMQPPublisher{
		url:         url,
		queue:       queue,
		dialTimeout: defaultDialTimeout,
		retryAfter:  defaultRetryAfter,
		now:         time.Now,
	}
}

func (p *AMQPPublisher) PublishClaimCreated(ctx context.Context, event ClaimCreated) error {
	body, err := event.encode()
	if err != nil {
		return err
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Type:         TypeClaimCreated,
		MessageId:    event.ClaimID.String(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.mu.Lock()
		if p.ch == ch {
			p.resetLocked()
		}
		p.mu.Unlock()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// channel returns the open channel, dialing a new connection when there is none.
func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if !p.failedAt.IsZero() && p.now().Sub(p.failedAt) < p.retryAfter {
		p.mu.Unlock()
		return nil, ErrBrokerBackoff
	}
	p.mu.Unlock()

	conn, ch, err := p.dial(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failedAt = p.now()
		return nil, err
	}
	if p.ch != nil && !p.ch.IsClosed() {
		// Lost a race with a concurrent dial.
		_ = ch.Close()
		_ = conn.Close()
		return p.ch, nil
	}
	p.resetLocked()
	p.conn, p.ch = conn, ch
	p.failedAt = time.Time{}
	slog.Debug("rabbitmq channel opened", "queue", p.queue)
	return ch, nil
}

func (p *AMQPPublisher) dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	timeout := p.dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, nil, fmt.Errorf("rabbitmq: dial: %w", context.DeadlineExceeded)
		}
		if left < timeout {
			timeout = left
		}
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: declare queue %s: %w", p.queue, err)
	}
	return conn, ch, nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
