package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

// MessageCache keeps short-lived delivery receipts for sent messages.
type MessageCache interface {
	StoreSent(ctx context.Context, id uuid.UUID, deliveryID string, sentAt time.Time) error
}

// TokenCache holds report-token records in front of the token store. A miss
// is reported as ok=false with a nil error.
//
// AddToken only writes when no entry exists, so a fill from a stale store
// read never replaces a revocation written with PutToken.
type TokenCache interface {
	GetToken(ctx context.Context, hash string) (t model.ReportToken, ok bool, err error)
	AddToken(ctx context.Context, t model.ReportToken, ttl time.Duration) error
	PutToken(ctx context.Context, t model.ReportToken, ttl time.Duration) error
}
