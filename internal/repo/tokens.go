package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

// TokenRepository stores report tokens keyed by the hash of their value.
type TokenRepository interface {
	CreateToken(ctx context.Context, t model.ReportToken) error
	GetToken(ctx context.Context, hash string) (model.ReportToken, error)
	// ExpireToken moves expires_at back to at when it is later than at.
	ExpireToken(ctx context.Context, hash string, at time.Time) error
}
