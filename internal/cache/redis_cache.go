package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	DeliveryID string    `json:"deliveryId"`
	SentAt     time.Time `json:"sentAt"`
}

func sentKey(id uuid.UUID) string {
	return "msg:" + id.String()
}

func tokenKey(hash string) string {
	return "rtok:" + hash
}

func (c *RedisCache) StoreSent(ctx context.Context, id uuid.UUID, deliveryID string, sentAt time.Time) error {
	b, err := json.Marshal(sentValue{
		DeliveryID: deliveryID,
		SentAt:     sentAt.UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, sentKey(id), b, c.ttl).Err()
}

type tokenValue struct {
	Hash           string    `json:"hash"`
	StudentID      string    `json:"studentId"`
	ReportType     string    `json:"reportType"`
	GuardianAccess bool      `json:"guardianAccess"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func (c *RedisCache) GetToken(ctx context.Context, hash string) (model.ReportToken, bool, error) {
	raw, err := c.rdb.Get(ctx, tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ReportToken{}, false, nil
	}
	if err != nil {
		return model.ReportToken{}, false, err
	}

	var v tokenValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.ReportToken{}, false, err
	}
	return model.ReportToken{
		Hash:           v.Hash,
		StudentID:      v.StudentID,
		ReportType:     model.ReportType(v.ReportType),
		GuardianAccess: v.GuardianAccess,
		IssuedAt:       v.IssuedAt,
		ExpiresAt:      v.ExpiresAt,
	}, true, nil
}

func encodeToken(t model.ReportToken) ([]byte, error) {
	return json.Marshal(tokenValue{
		Hash:           t.Hash,
		StudentID:      t.StudentID,
		ReportType:     string(t.ReportType),
		GuardianAccess: t.GuardianAccess,
		IssuedAt:       t.IssuedAt.UTC(),
		ExpiresAt:      t.ExpiresAt.UTC(),
	})
}

// AddToken caches t for ttl unless an entry for its hash already exists.
// Non-positive ttls are skipped: the record is already expired and the store
// remains the source of truth.
func (c *RedisCache) AddToken(ctx context.Context, t model.ReportToken, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := encodeToken(t)
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, tokenKey(t.Hash), b, ttl).Err()
}

// PutToken overwrites the entry for t's hash.
func (c *RedisCache) PutToken(ctx context.Context, t model.ReportToken, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := encodeToken(t)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, tokenKey(t.Hash), b, ttl).Err()
}
