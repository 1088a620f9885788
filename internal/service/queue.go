package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/kindergarten-notify/internal/metrics"
	"github.com/LeventeLantos/kindergarten-notify/internal/model"
	"github.com/LeventeLantos/kindergarten-notify/internal/repo"
)

// Queue is the producer-facing side of the message store.
type Queue struct {
	repo repo.MessageRepository
	now  func() time.Time
}

func NewQueue(r repo.MessageRepository) *Queue {
	return &Queue{
		repo: r,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func (q *Queue) Enqueue(ctx context.Context, m model.NewMessage) (uuid.UUID, error) {
	if err := m.Validate(); err != nil {
		return uuid.Nil, err
	}
	if m.ScheduledAt.IsZero() {
		m.ScheduledAt = q.now()
	}

	id, err := q.repo.Enqueue(ctx, m)
	if err != nil {
		return uuid.Nil, err
	}

	metrics.MessagesEnqueued.WithLabelValues(string(m.Type)).Inc()
	slog.Info("message enqueued",
		"message_id", id,
		"tenant_id", m.TenantID,
		"type", m.Type,
		"scheduled_at", m.ScheduledAt,
	)
	return id, nil
}

// Requeue re-sends a failed message as a new pending message due now. The
// failed original is left untouched.
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	orig, err := q.repo.Get(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if orig.Status != model.Failed {
		return uuid.Nil, fmt.Errorf("%w: message %s is %s, only failed messages can be requeued",
			model.ErrInvalidState, id, orig.Status)
	}

	return q.Enqueue(ctx, model.NewMessage{
		TenantID:     orig.TenantID,
		Recipient:    orig.Recipient,
		Content:      orig.Content,
		Type:         orig.Type,
		RequeuedFrom: &orig.ID,
	})
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (model.Message, error) {
	return q.repo.Get(ctx, id)
}

func (q *Queue) List(ctx context.Context, f model.MessageFilter, limit, offset int) ([]model.Message, error) {
	return q.repo.List(ctx, f, limit, offset)
}
