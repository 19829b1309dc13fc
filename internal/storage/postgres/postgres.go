// Package postgres implements the helpdesk stores and the durable job broker on
// PostgreSQL through a pgx pool. The schema lives in db/migrations.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jvkabum/vue3-izing-sub001/internal/autoreply"
	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/settings"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

var (
	_ channel.SessionStore = (*Store)(nil)
	_ contacts.Store       = (*Store)(nil)
	_ settings.Store       = (*Store)(nil)
	_ ticket.Store         = (*Store)(nil)
	_ message.Store        = (*Store)(nil)
	_ autoreply.Store      = (*Store)(nil)
	_ campaign.Store       = (*Store)(nil)
)

// Store runs every entity query on one pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func stringsOf[T ~string](items []T) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = string(item)
	}
	return out
}
