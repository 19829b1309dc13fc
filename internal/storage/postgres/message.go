package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jvkabum/vue3-izing-sub001/internal/db"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
)

const messageColumns = `id, tenant_id, ticket_id, contact_id, body, media_url, media_type, from_me,
	native_id, ack, status, is_deleted, quoted_msg_id, schedule_at, error, timestamp, created_at, updated_at`

// dueFilter matches outbound messages that never reached the platform and are due at
// the timestamp bound to placeholder param.
func dueFilter(param string) string {
	return `status = 'pending' AND native_id IS NULL AND from_me
		AND (schedule_at IS NULL OR schedule_at <= ` + param + `)`
}

func scanMessage(row pgx.Row) (message.Message, error) {
	var (
		m                                        message.Message
		status                                   string
		mediaURL, mediaType, nativeID, quotedMsg pgtype.Text
		scheduleAt                               pgtype.Timestamptz
	)
	err := row.Scan(&m.ID, &m.TenantID, &m.TicketID, &m.ContactID, &m.Body, &mediaURL, &mediaType, &m.FromMe,
		&nativeID, &m.Ack, &status, &m.IsDeleted, &quotedMsg, &scheduleAt, &m.Error, &m.Timestamp, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return message.Message{}, err
	}
	m.Status = message.Status(status)
	m.MediaURL = db.TextToString(mediaURL)
	m.MediaType = db.TextToString(mediaType)
	m.NativeID = db.TextToString(nativeID)
	m.QuotedMsgID = db.TextToString(quotedMsg)
	m.ScheduleAt = db.TimeFromPg(scheduleAt)
	return m, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]message.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	out := make([]message.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetMessage(ctx context.Context, tenantID, id string) (message.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if db.IsNoRows(err) {
		return message.Message{}, message.ErrMessageNotFound
	}
	return m, err
}

func (s *Store) FindByNativeID(ctx context.Context, tenantID, nativeID string) (message.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE tenant_id = $1 AND native_id = $2
		ORDER BY created_at, id
		LIMIT 1`, tenantID, nativeID))
	if db.IsNoRows(err) {
		return message.Message{}, message.ErrMessageNotFound
	}
	return m, err
}

func (s *Store) InsertMessage(ctx context.Context, m message.Message) (message.Message, bool, error) {
	stored, err := scanMessage(s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, tenant_id, ticket_id, contact_id, body, media_url, media_type, from_me,
			native_id, ack, status, is_deleted, quoted_msg_id, schedule_at, error, timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (ticket_id, native_id) WHERE native_id IS NOT NULL DO NOTHING
		RETURNING `+messageColumns,
		m.ID, m.TenantID, m.TicketID, m.ContactID, m.Body, db.Text(m.MediaURL), db.Text(m.MediaType), m.FromMe,
		db.Text(m.NativeID), m.Ack, string(m.Status), m.IsDeleted, db.Text(m.QuotedMsgID),
		db.Timestamptz(m.ScheduleAt), m.Error, m.Timestamp, m.CreatedAt, m.UpdatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !db.IsNoRows(err) {
		return message.Message{}, false, fmt.Errorf("insert message: %w", err)
	}
	existing, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE ticket_id = $1 AND native_id = $2`, m.TicketID, m.NativeID))
	if err != nil {
		return message.Message{}, false, fmt.Errorf("load duplicate message: %w", err)
	}
	return existing, false, nil
}

func (s *Store) UpdateMessage(ctx context.Context, m message.Message) (message.Message, error) {
	stored, err := scanMessage(s.pool.QueryRow(ctx, `
		UPDATE messages SET
			body = $3,
			media_url = $4,
			media_type = $5,
			native_id = $6,
			ack = $7,
			status = $8,
			is_deleted = $9,
			schedule_at = $10,
			error = $11,
			timestamp = $12,
			updated_at = $13
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+messageColumns,
		m.TenantID, m.ID, m.Body, db.Text(m.MediaURL), db.Text(m.MediaType), db.Text(m.NativeID), m.Ack,
		string(m.Status), m.IsDeleted, db.Timestamptz(m.ScheduleAt), m.Error, m.Timestamp, m.UpdatedAt))
	if db.IsNoRows(err) {
		return message.Message{}, message.ErrMessageNotFound
	}
	return stored, err
}

// ApplyAck locks the oldest message carrying nativeID and stores the ack NextAck allows.
func (s *Store) ApplyAck(ctx context.Context, tenantID, nativeID string, incoming int) (message.Message, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return message.Message{}, false, fmt.Errorf("begin ack: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := scanMessage(tx.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE tenant_id = $1 AND native_id = $2
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE`, tenantID, nativeID))
	if db.IsNoRows(err) {
		return message.Message{}, false, message.ErrMessageNotFound
	}
	if err != nil {
		return message.Message{}, false, err
	}
	ack, changed := message.NextAck(m.Ack, incoming)
	if !changed {
		return m, false, nil
	}
	m, err = scanMessage(tx.QueryRow(ctx, `
		UPDATE messages SET
			ack = $2,
			status = CASE WHEN $2 = -1 THEN 'error' ELSE status END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+messageColumns, m.ID, ack))
	if err != nil {
		return message.Message{}, false, fmt.Errorf("store ack: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return message.Message{}, false, fmt.Errorf("commit ack: %w", err)
	}
	return m, true, nil
}

func (s *Store) DeletePending(ctx context.Context, tenantID, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending' AND native_id IS NULL`, tenantID, id)
	if err != nil {
		return false, fmt.Errorf("delete pending message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListPending(ctx context.Context, tenantID string, now time.Time, limit int) ([]message.Message, error) {
	var bound pgtype.Int4
	if limit > 0 {
		bound = pgtype.Int4{Int32: int32(limit), Valid: true}
	}
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE tenant_id = $1 AND `+dueFilter("$2")+`
		ORDER BY created_at, id
		LIMIT $3`, tenantID, now, bound)
}

func (s *Store) ListTenantsWithDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM messages
		WHERE `+dueFilter("$1")+`
		ORDER BY tenant_id`, now)
	if err != nil {
		return nil, fmt.Errorf("list tenants with due messages: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tenants: %w", err)
	}
	return ids, nil
}

// ListByTicket returns the newest limit messages of a ticket in chronological order.
func (s *Store) ListByTicket(ctx context.Context, tenantID, ticketID string, limit int) ([]message.Message, error) {
	var bound pgtype.Int4
	if limit > 0 {
		bound = pgtype.Int4{Int32: int32(limit), Valid: true}
	}
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE tenant_id = $1 AND ticket_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY created_at, id`, tenantID, ticketID, bound)
}
