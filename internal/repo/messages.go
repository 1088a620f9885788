package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

const DefaultClaimLimit = 10

// MessageRepository is the durable message queue. ClaimBatch is the only
// read used by the dispatcher and must hand out each pending row at most once.
type MessageRepository interface {
	Enqueue(ctx context.Context, m model.NewMessage) (uuid.UUID, error)
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]model.Message, error)
	MarkSent(ctx context.Context, id uuid.UUID, deliveryID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	// Release moves a processing row back to pending without recording an attempt.
	Release(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (model.Message, error)
	List(ctx context.Context, f model.MessageFilter, limit, offset int) ([]model.Message, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultClaimLimit
	}
	return limit
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
