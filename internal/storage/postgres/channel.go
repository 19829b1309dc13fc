package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/db"
	"github.com/jvkabum/vue3-izing-sub001/internal/settings"
)

const sessionColumns = `id, tenant_id, type, name, status, is_default, credentials, updated_at`

func scanSession(row pgx.Row) (channel.Session, error) {
	var (
		s      channel.Session
		ct     string
		status string
	)
	if err := row.Scan(&s.ID, &s.TenantID, &ct, &s.Name, &status, &s.IsDefault, &s.Credentials, &s.UpdatedAt); err != nil {
		return channel.Session{}, err
	}
	s.Type = channel.Type(ct)
	s.Status = channel.SessionStatus(status)
	return s, nil
}

// SaveSession inserts or replaces a channel session.
func (s *Store) SaveSession(ctx context.Context, session channel.Session) error {
	creds := session.Credentials
	if creds == nil {
		creds = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_sessions (id, tenant_id, type, name, status, is_default, credentials, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			is_default = EXCLUDED.is_default,
			credentials = EXCLUDED.credentials,
			updated_at = now()`,
		session.ID, session.TenantID, string(session.Type), session.Name, string(session.Status), session.IsDefault, creds)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context) ([]channel.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM channel_sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	out := make([]channel.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) GetSession(ctx context.Context, id string) (channel.Session, error) {
	session, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM channel_sessions WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return channel.Session{}, apperr.Newf(apperr.KindNotFound, "channel.session", "session %s not found", id)
	}
	return session, err
}

// FindDefaultSession returns the tenant's default session of channelType, else its oldest one.
func (s *Store) FindDefaultSession(ctx context.Context, tenantID string, channelType channel.Type) (channel.Session, error) {
	session, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM channel_sessions
		WHERE tenant_id = $1 AND type = $2
		ORDER BY is_default DESC, created_at, id
		LIMIT 1`, tenantID, string(channelType)))
	if db.IsNoRows(err) {
		return channel.Session{}, apperr.Newf(apperr.KindNotFound, "channel.session", "no %s session for tenant %s", channelType, tenantID)
	}
	return session, err
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status channel.SessionStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE channel_sessions SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "channel.session", "session %s not found", id)
	}
	return nil
}

const contactColumns = `id, tenant_id, channel, external_id, name, number, is_group, created_at, updated_at`

func scanContact(row pgx.Row) (contacts.Contact, error) {
	var (
		c  contacts.Contact
		ct string
	)
	if err := row.Scan(&c.ID, &c.TenantID, &ct, &c.ExternalID, &c.Name, &c.Number, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return contacts.Contact{}, err
	}
	c.Channel = channel.Type(ct)
	return c, nil
}

func (s *Store) GetContact(ctx context.Context, tenantID, id string) (contacts.Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if db.IsNoRows(err) {
		return contacts.Contact{}, contacts.ErrContactNotFound
	}
	return c, err
}

func (s *Store) UpsertContact(ctx context.Context, c contacts.Contact) (contacts.Contact, error) {
	stored, err := scanContact(s.pool.QueryRow(ctx, `
		INSERT INTO contacts (id, tenant_id, channel, external_id, name, number, is_group, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, channel, external_id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE contacts.name END,
			updated_at = CASE WHEN EXCLUDED.name <> '' AND EXCLUDED.name <> contacts.name
				THEN EXCLUDED.updated_at ELSE contacts.updated_at END
		RETURNING `+contactColumns,
		c.ID, c.TenantID, string(c.Channel), c.ExternalID, c.Name, c.Number, c.IsGroup, c.CreatedAt, c.UpdatedAt))
	if err != nil {
		return contacts.Contact{}, fmt.Errorf("upsert contact: %w", err)
	}
	return stored, nil
}

func (s *Store) GetSettings(ctx context.Context, tenantID string) (settings.Settings, error) {
	var (
		cfg    settings.Settings
		flowID pgtype.Text
	)
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, days_to_close, chatbot_inactive_minutes, chatbot_farewell, chatbot_flow_id,
			out_of_hours_message, business_hours, test_numbers, updated_at
		FROM tenant_settings WHERE tenant_id = $1`, tenantID).Scan(
		&cfg.TenantID, &cfg.DaysToClose, &cfg.ChatbotInactiveMinutes, &cfg.ChatbotFarewell, &flowID,
		&cfg.OutOfHoursMessage, &cfg.BusinessHours, &cfg.TestNumbers, &cfg.UpdatedAt)
	if db.IsNoRows(err) {
		return settings.Settings{}, settings.ErrSettingsNotFound
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	cfg.ChatbotFlowID = db.TextToString(flowID)
	return cfg, nil
}

func (s *Store) UpsertSettings(ctx context.Context, cfg settings.Settings) error {
	numbers := cfg.TestNumbers
	if numbers == nil {
		numbers = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, days_to_close, chatbot_inactive_minutes, chatbot_farewell,
			chatbot_flow_id, out_of_hours_message, business_hours, test_numbers, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id) DO UPDATE SET
			days_to_close = EXCLUDED.days_to_close,
			chatbot_inactive_minutes = EXCLUDED.chatbot_inactive_minutes,
			chatbot_farewell = EXCLUDED.chatbot_farewell,
			chatbot_flow_id = EXCLUDED.chatbot_flow_id,
			out_of_hours_message = EXCLUDED.out_of_hours_message,
			business_hours = EXCLUDED.business_hours,
			test_numbers = EXCLUDED.test_numbers,
			updated_at = EXCLUDED.updated_at`,
		cfg.TenantID, cfg.DaysToClose, cfg.ChatbotInactiveMinutes, cfg.ChatbotFarewell,
		db.Text(cfg.ChatbotFlowID), cfg.OutOfHoursMessage, cfg.BusinessHours, numbers, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

func (s *Store) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id FROM tenant_settings
		UNION
		SELECT tenant_id FROM channel_sessions
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tenants: %w", err)
	}
	return ids, nil
}
