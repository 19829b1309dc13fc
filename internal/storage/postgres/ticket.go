package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/db"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

const ticketColumns = `id, tenant_id, contact_id, channel, session_id, status, user_id, queue_id,
	auto_reply_id, step_auto_reply_id, chatbot_at, is_group, last_message, last_message_at,
	unread_count, created_at, updated_at, closed_at`

func scanTicket(row pgx.Row) (ticket.Ticket, error) {
	var (
		t                                  ticket.Ticket
		ct, status                         string
		userID, queueID, flowID, stepID    pgtype.Text
		chatbotAt, lastMessageAt, closedAt pgtype.Timestamptz
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.ContactID, &ct, &t.SessionID, &status, &userID, &queueID,
		&flowID, &stepID, &chatbotAt, &t.IsGroup, &t.LastMessage, &lastMessageAt,
		&t.UnreadCount, &t.CreatedAt, &t.UpdatedAt, &closedAt)
	if err != nil {
		return ticket.Ticket{}, err
	}
	t.Channel = channel.Type(ct)
	t.Status = ticket.Status(status)
	t.UserID = db.TextToString(userID)
	t.QueueID = db.TextToString(queueID)
	t.AutoReplyID = db.TextToString(flowID)
	t.StepAutoReplyID = db.TextToString(stepID)
	t.ChatbotAt = db.TimeFromPg(chatbotAt)
	t.LastMessageAt = db.TimeFromPg(lastMessageAt)
	t.ClosedAt = db.TimeFromPg(closedAt)
	return t, nil
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]ticket.Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()
	out := make([]ticket.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTicket(ctx context.Context, tenantID, id string) (ticket.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if db.IsNoRows(err) {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	return t, err
}

// conflict turns a violation of the one-active-ticket index into a conflict error
// carrying the id of the ticket that holds the slot.
func (s *Store) conflict(ctx context.Context, op string, t ticket.Ticket, err error) error {
	if !db.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	existing, findErr := s.FindActive(ctx, t.TenantID, t.ContactID, t.Channel)
	if findErr != nil {
		return apperr.New(apperr.KindConflict, op, err)
	}
	return apperr.Conflict(op, existing.ID)
}

func (s *Store) CreateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	stored, err := scanTicket(s.pool.QueryRow(ctx, `
		INSERT INTO tickets (id, tenant_id, contact_id, channel, session_id, status, user_id, queue_id,
			auto_reply_id, step_auto_reply_id, chatbot_at, is_group, last_message, last_message_at,
			unread_count, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING `+ticketColumns,
		t.ID, t.TenantID, t.ContactID, string(t.Channel), t.SessionID, string(t.Status),
		db.Text(t.UserID), db.Text(t.QueueID), db.Text(t.AutoReplyID), db.Text(t.StepAutoReplyID),
		db.Timestamptz(t.ChatbotAt), t.IsGroup, t.LastMessage, db.Timestamptz(t.LastMessageAt),
		t.UnreadCount, t.CreatedAt, t.UpdatedAt, db.Timestamptz(t.ClosedAt)))
	if err != nil {
		return ticket.Ticket{}, s.conflict(ctx, "ticket.create", t, err)
	}
	return stored, nil
}

// UpdateTicket stores ownership and status. Activity columns are left to TouchTicket.
func (s *Store) UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	stored, err := scanTicket(s.pool.QueryRow(ctx, `
		UPDATE tickets SET
			session_id = $3,
			status = $4,
			user_id = $5,
			queue_id = $6,
			auto_reply_id = $7,
			step_auto_reply_id = $8,
			chatbot_at = $9,
			updated_at = $10,
			closed_at = $11
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+ticketColumns,
		t.TenantID, t.ID, t.SessionID, string(t.Status), db.Text(t.UserID), db.Text(t.QueueID),
		db.Text(t.AutoReplyID), db.Text(t.StepAutoReplyID), db.Timestamptz(t.ChatbotAt),
		t.UpdatedAt, db.Timestamptz(t.ClosedAt)))
	if db.IsNoRows(err) {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	if err != nil {
		return ticket.Ticket{}, s.conflict(ctx, "ticket.update", t, err)
	}
	return stored, nil
}

func (s *Store) TouchTicket(ctx context.Context, tenantID, id string, in ticket.TouchInput) (ticket.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		UPDATE tickets SET
			last_message = $3,
			last_message_at = $4,
			unread_count = unread_count + CASE WHEN $5 THEN 1 ELSE 0 END,
			updated_at = GREATEST(updated_at, $4)
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+ticketColumns,
		tenantID, id, in.Body, in.At, in.Inbound))
	if db.IsNoRows(err) {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	return t, err
}

func (s *Store) FindActive(ctx context.Context, tenantID, contactID string, ct channel.Type) (ticket.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE tenant_id = $1 AND contact_id = $2 AND channel = $3 AND status IN ('open', 'pending')
		LIMIT 1`, tenantID, contactID, string(ct)))
	if db.IsNoRows(err) {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	return t, err
}

func (s *Store) FindLatest(ctx context.Context, tenantID, contactID string, ct channel.Type) (ticket.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE tenant_id = $1 AND contact_id = $2 AND channel = $3
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1`, tenantID, contactID, string(ct)))
	if db.IsNoRows(err) {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	return t, err
}

func (s *Store) ListByUser(ctx context.Context, tenantID, userID string, statuses []ticket.Status) ([]ticket.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE tenant_id = $1 AND user_id = $2 AND status = ANY($3)
		ORDER BY updated_at, id`, tenantID, userID, stringsOf(statuses))
}

func (s *Store) ListInactive(ctx context.Context, tenantID string, statuses []ticket.Status, cutoff time.Time) ([]ticket.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE tenant_id = $1 AND status = ANY($2) AND updated_at < $3
		ORDER BY updated_at, id`, tenantID, stringsOf(statuses), cutoff)
}

func (s *Store) ListChatbotIdle(ctx context.Context, tenantID string, cutoff time.Time) ([]ticket.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE tenant_id = $1 AND status IN ('open', 'pending')
			AND step_auto_reply_id IS NOT NULL AND chatbot_at < $2
		ORDER BY updated_at, id`, tenantID, cutoff)
}

func (s *Store) AppendLog(ctx context.Context, entry ticket.LogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticket_logs (id, tenant_id, ticket_id, type, user_id, queue_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TenantID, entry.TicketID, string(entry.Type), db.Text(entry.UserID), db.Text(entry.QueueID), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ticket log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, tenantID, ticketID string) ([]ticket.LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, ticket_id, type, user_id, queue_id, created_at
		FROM ticket_logs WHERE tenant_id = $1 AND ticket_id = $2
		ORDER BY created_at, id`, tenantID, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket logs: %w", err)
	}
	defer rows.Close()
	out := make([]ticket.LogEntry, 0)
	for rows.Next() {
		var (
			e               ticket.LogEntry
			logType         string
			userID, queueID pgtype.Text
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.TicketID, &logType, &userID, &queueID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket log: %w", err)
		}
		e.Type = ticket.LogType(logType)
		e.UserID = db.TextToString(userID)
		e.QueueID = db.TextToString(queueID)
		out = append(out, e)
	}
	return out, rows.Err()
}
