// Package trigger turns reminder events published on a broker into queued
// messages. It only enqueues; delivery stays with the dispatcher.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, m model.NewMessage) (uuid.UUID, error)
}

// Reminder is the JSON body of a reminder event.
type Reminder struct {
	TenantID    string     `json:"tenantId"`
	Recipient   string     `json:"recipient"`
	Content     string     `json:"content"`
	Type        string     `json:"messageType"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

func (r Reminder) message() model.NewMessage {
	m := model.NewMessage{
		TenantID:  r.TenantID,
		Recipient: r.Recipient,
		Content:   r.Content,
		Type:      model.MessageType(r.Type),
	}
	if m.Type == "" {
		m.Type = model.ExpiryWarning
	}
	if r.ScheduledAt != nil {
		m.ScheduledAt = r.ScheduledAt.UTC()
	}
	return m
}

type Consumer struct {
	queue string
	q     Enqueuer
}

func NewConsumer(queue string, q Enqueuer) *Consumer {
	return &Consumer{queue: queue, q: q}
}

// Handle enqueues one delivery and settles it. Malformed or invalid events
// are dropped; storage failures are requeued on the broker.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) error {
	var r Reminder
	if err := json.Unmarshal(d.Body, &r); err != nil {
		slog.Warn("reminder decode failed", "queue", c.queue, "err", err)
		return d.Nack(false, false)
	}

	id, err := c.q.Enqueue(ctx, r.message())
	switch {
	case errors.Is(err, model.ErrValidation):
		slog.Warn("reminder rejected", "queue", c.queue, "tenant_id", r.TenantID, "err", err)
		return d.Nack(false, false)
	case err != nil:
		slog.Error("reminder enqueue failed", "queue", c.queue, "tenant_id", r.TenantID, "err", err)
		return d.Nack(false, true)
	}

	slog.Info("reminder enqueued", "queue", c.queue, "message_id", id, "tenant_id", r.TenantID)
	return d.Ack(false)
}

// Run consumes msgs until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("reminder delivery channel closed")
			}
			if err := c.Handle(ctx, d); err != nil {
				slog.Error("reminder settle failed", "queue", c.queue, "err", err)
			}
		}
	}
}

// Subscription is a live broker connection feeding a Consumer.
type Subscription struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	Msgs <-chan amqp.Delivery
}

// Dial connects to url, declares queue as durable and starts a manual-ack
// consumer on it.
func Dial(url, queue string) (*Subscription, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	msgs, err := ch.Consume(queue, "kindergarten-notify", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consume queue %s: %w", queue, err)
	}
	return &Subscription{conn: conn, ch: ch, Msgs: msgs}, nil
}

func (s *Subscription) Close() error {
	if err := s.ch.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
