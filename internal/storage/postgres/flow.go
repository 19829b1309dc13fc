package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jvkabum/vue3-izing-sub001/internal/autoreply"
	"github.com/jvkabum/vue3-izing-sub001/internal/db"
)

const flowColumns = `id, tenant_id, name, steps, created_at, updated_at`

func scanFlow(row pgx.Row) (autoreply.Flow, error) {
	var f autoreply.Flow
	if err := row.Scan(&f.ID, &f.TenantID, &f.Name, &f.Steps, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return autoreply.Flow{}, err
	}
	return f, nil
}

func (s *Store) GetFlow(ctx context.Context, tenantID, id string) (autoreply.Flow, error) {
	f, err := scanFlow(s.pool.QueryRow(ctx, `SELECT `+flowColumns+` FROM auto_reply_flows WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if db.IsNoRows(err) {
		return autoreply.Flow{}, autoreply.ErrFlowNotFound
	}
	return f, err
}

// UpsertFlow stores the whole step graph as one JSONB document.
func (s *Store) UpsertFlow(ctx context.Context, f autoreply.Flow) (autoreply.Flow, error) {
	steps := f.Steps
	if steps == nil {
		steps = []autoreply.Step{}
	}
	stored, err := scanFlow(s.pool.QueryRow(ctx, `
		INSERT INTO auto_reply_flows (id, tenant_id, name, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			steps = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at
		RETURNING `+flowColumns,
		f.ID, f.TenantID, f.Name, steps, f.CreatedAt, f.UpdatedAt))
	if err != nil {
		return autoreply.Flow{}, fmt.Errorf("upsert flow: %w", err)
	}
	return stored, nil
}
