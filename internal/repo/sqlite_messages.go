package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
)

// OpenSQLite opens a SQLite database with WAL and a busy timeout. The pool
// is capped at one connection so ClaimBatch runs serialized.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

type SQLiteMessageRepo struct {
	db *sql.DB
}

func NewSQLiteMessageRepo(db *sql.DB) *SQLiteMessageRepo {
	return &SQLiteMessageRepo{db: db}
}

func (r *SQLiteMessageRepo) Enqueue(ctx context.Context, m model.NewMessage) (uuid.UUID, error) {
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
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?)
	`, id.String(), m.TenantID, m.Recipient, m.Content, string(m.Type),
		toNanos(scheduledAt), nullUUID(m.RequeuedFrom), toNanos(now), toNanos(now))
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (r *SQLiteMessageRepo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]model.Message, error) {
	limit = normalizeLimit(limit)
	ts := toNanos(now)

	rows, err := r.db.QueryContext(ctx, `
		UPDATE messages
		SET status = 'processing', claimed_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id
			FROM messages
			WHERE status = 'pending' AND scheduled_at <= ?
			ORDER BY scheduled_at ASC
			LIMIT ?
		)
		RETURNING `+messageColumns, ts, ts, ts, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByScheduledAt(msgs)
	return msgs, nil
}

func (r *SQLiteMessageRepo) MarkSent(ctx context.Context, id uuid.UUID, deliveryID string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'sent', sent_at = ?, delivery_id = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')
	`, toNanos(sentAt), nullString(deliveryID), toNanos(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *SQLiteMessageRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'failed', last_error = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')
	`, errMsg, toNanos(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *SQLiteMessageRepo) Release(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'pending', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, toNanos(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("release message: %w", err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *SQLiteMessageRepo) checkTransition(ctx context.Context, id uuid.UUID, res sql.Result) error {
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

func (r *SQLiteMessageRepo) Get(ctx context.Context, id uuid.UUID) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id.String())
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	return m, err
}

func (r *SQLiteMessageRepo) List(ctx context.Context, f model.MessageFilter, limit, offset int) ([]model.Message, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (? = '' OR tenant_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, f.TenantID, f.TenantID, string(f.Status), string(f.Status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSQLiteMessage(s rowScanner) (model.Message, error) {
	var (
		m            model.Message
		msgType      string
		status       string
		scheduledAt  int64
		sentAt       sql.NullInt64
		lastErr      sql.NullString
		deliveryID   sql.NullString
		claimedAt    sql.NullInt64
		requeuedFrom uuid.NullUUID
		createdAt    int64
		updatedAt    int64
	)
	if err := s.Scan(
		&m.ID,
		&m.TenantID,
		&m.Recipient,
		&m.Content,
		&msgType,
		&status,
		&scheduledAt,
		&sentAt,
		&lastErr,
		&deliveryID,
		&claimedAt,
		&requeuedFrom,
		&createdAt,
		&updatedAt,
	); err != nil {
		return model.Message{}, err
	}

	m.Type = model.MessageType(msgType)
	m.Status = model.Status(status)
	m.ScheduledAt = fromNanos(scheduledAt)
	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updatedAt)
	m.SentAt = timePtr(sentAt)
	m.ClaimedAt = timePtr(claimedAt)
	m.LastError = stringPtr(lastErr)
	m.DeliveryID = stringPtr(deliveryID)
	if requeuedFrom.Valid {
		id := requeuedFrom.UUID
		m.RequeuedFrom = &id
	}
	return m, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
