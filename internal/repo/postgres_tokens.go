package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

type PostgresTokenRepo struct {
	db *sql.DB
}

func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

func (r *PostgresTokenRepo) CreateToken(ctx context.Context, t model.ReportToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO report_tokens (token_hash, student_id, report_type, guardian_access, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.Hash, t.StudentID, string(t.ReportType), t.GuardianAccess, t.IssuedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert report token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) GetToken(ctx context.Context, hash string) (model.ReportToken, error) {
	var (
		t          model.ReportToken
		reportType string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT token_hash, student_id, report_type, guardian_access, issued_at, expires_at
		FROM report_tokens
		WHERE token_hash = $1
	`, hash).Scan(&t.Hash, &t.StudentID, &reportType, &t.GuardianAccess, &t.IssuedAt, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReportToken{}, fmt.Errorf("report token: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.ReportToken{}, fmt.Errorf("get report token: %w", err)
	}
	t.ReportType = model.ReportType(reportType)
	return t, nil
}

func (r *PostgresTokenRepo) ExpireToken(ctx context.Context, hash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE report_tokens
		SET expires_at = LEAST(expires_at, $2)
		WHERE token_hash = $1
	`, hash, at.UTC())
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
