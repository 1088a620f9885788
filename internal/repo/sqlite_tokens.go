package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

type SQLiteTokenRepo struct {
	db *sql.DB
}

func NewSQLiteTokenRepo(db *sql.DB) *SQLiteTokenRepo {
	return &SQLiteTokenRepo{db: db}
}

func (r *SQLiteTokenRepo) CreateToken(ctx context.Context, t model.ReportToken) error {
	guardian := 0
	if t.GuardianAccess {
		guardian = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO report_tokens (token_hash, student_id, report_type, guardian_access, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Hash, t.StudentID, string(t.ReportType), guardian, toNanos(t.IssuedAt), toNanos(t.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert report token: %w", err)
	}
	return nil
}

func (r *SQLiteTokenRepo) GetToken(ctx context.Context, hash string) (model.ReportToken, error) {
	var (
		t          model.ReportToken
		reportType string
		guardian   int64
		issuedAt   int64
		expiresAt  int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT token_hash, student_id, report_type, guardian_access, issued_at, expires_at
		FROM report_tokens
		WHERE token_hash = ?
	`, hash).Scan(&t.Hash, &t.StudentID, &reportType, &guardian, &issuedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReportToken{}, fmt.Errorf("report token: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.ReportToken{}, fmt.Errorf("get report token: %w", err)
	}
	t.ReportType = model.ReportType(reportType)
	t.GuardianAccess = guardian != 0
	t.IssuedAt = fromNanos(issuedAt)
	t.ExpiresAt = fromNanos(expiresAt)
	return t, nil
}

func (r *SQLiteTokenRepo) ExpireToken(ctx context.Context, hash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE report_tokens
		SET expires_at = MIN(expires_at, ?)
		WHERE token_hash = ?
	`, toNanos(at), hash)
	if err != nil {
		return fmt.Errorf("expire report token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("report token: %w", model.ErrNotFound)
	}
	return nil
}
