package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

const messageColumns = `id, tenant_id, recipient, content, message_type, status,
	scheduled_at, sent_at, last_error, delivery_id, claimed_at, requeued_from,
	created_at, updated_at`

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func (r *PostgresMessageRepo) Enqueue(ctx context.Context, m model.NewMessage) (uuid.UUID, error) {
	if err := m.Validate(); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	now := time.Now().UTC()
	scheduledAt := m.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, recipient, content, message_type, status,
		                      scheduled_at, requeued_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $8)
	`, id, m.TenantID, m.Recipient, m.Content, string(m.Type), scheduledAt.UTC(), nullUUID(m.RequeuedFrom), now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// ClaimBatch moves due pending rows to processing in one statement. Rows
// locked by a concurrent claim are skipped, so overlapping dispatch runs
// receive disjoint batches.
func (r *PostgresMessageRepo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]model.Message, error) {
	limit = normalizeLimit(limit)

	rows, err := r.db.QueryContext(ctx, `
		UPDATE messages
		SET status = 'processing', claimed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id
			FROM messages
			WHERE status = 'pending' AND scheduled_at <= $2
			ORDER BY scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+messageColumns, limit, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order.
	sortByScheduledAt(msgs)
	return msgs, nil
}

func (r *PostgresMessageRepo) MarkSent(ctx context.Context, id uuid.UUID, deliveryID string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'sent',
		    sent_at = $2,
		    delivery_id = $3,
		    updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, sentAt.UTC(), nullString(deliveryID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *PostgresMessageRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'failed',
		    last_error = $2,
		    updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return r.checkTransition(ctx, id, res)
}

// Release hands a claimed message back to the queue unattempted. Rows that
// are no longer processing are left alone.
func (r *PostgresMessageRepo) Release(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'pending',
		    claimed_at = NULL,
		    updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release message: %w", err)
	}
	return r.checkTransition(ctx, id, res)
}

// checkTransition turns a zero-row update into either a no-op (the message
// is already terminal) or ErrNotFound.
func (r *PostgresMessageRepo) checkTransition(ctx context.Context, id uuid.UUID, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = r.Get(ctx, id)
	return err
}

func (r *PostgresMessageRepo) Get(ctx context.Context, id uuid.UUID) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanPostgresMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	return m, err
}

func (r *PostgresMessageRepo) List(ctx context.Context, f model.MessageFilter, limit, offset int) ([]model.Message, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE ($1::text = '' OR tenant_id = $1::text)
		  AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, f.TenantID, string(f.Status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresMessage(s rowScanner) (model.Message, error) {
	var (
		m            model.Message
		msgType      string
		status       string
		sentAt       sql.NullTime
		lastErr      sql.NullString
		deliveryID   sql.NullString
		claimedAt    sql.NullTime
		requeuedFrom uuid.NullUUID
	)
	if err := s.Scan(
		&m.ID,
		&m.TenantID,
		&m.Recipient,
		&m.Content,
		&msgType,
		&status,
		&m.ScheduledAt,
		&sentAt,
		&lastErr,
		&deliveryID,
		&claimedAt,
		&requeuedFrom,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return model.Message{}, err
	}

	m.Type = model.MessageType(msgType)
	m.Status = model.Status(status)
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		m.ClaimedAt = &t
	}
	m.LastError = stringPtr(lastErr)
	m.DeliveryID = stringPtr(deliveryID)
	if requeuedFrom.Valid {
		id := requeuedFrom.UUID
		m.RequeuedFrom = &id
	}
	return m, nil
}

func sortByScheduledAt(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].ScheduledAt.Before(msgs[j].ScheduledAt)
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
