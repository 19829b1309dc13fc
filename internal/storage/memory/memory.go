// Package memory is an in-process implementation of every helpdesk store. It backs tests
// and single-process development runs; nothing survives a restart.
package memory

import (
	"sort"
	"sync"
	"time"

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

// Store holds all entities behind one lock.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]channel.Session
	contacts   map[string]contacts.Contact
	settings   map[string]settings.Settings
	tickets    map[string]ticket.Ticket
	logs       []ticket.LogEntry
	messages   map[string]message.Message
	flows      map[string]autoreply.Flow
	campaigns  map[string]campaign.Campaign
	recipients map[string]campaign.Recipient
	now        func() time.Time
}

func New() *Store {
	return &Store{
		sessions:   map[string]channel.Session{},
		contacts:   map[string]contacts.Contact{},
		settings:   map[string]settings.Settings{},
		tickets:    map[string]ticket.Ticket{},
		messages:   map[string]message.Message{},
		flows:      map[string]autoreply.Flow{},
		campaigns:  map[string]campaign.Campaign{},
		recipients: map[string]campaign.Recipient{},
		now:        time.Now,
	}
}

// SetClock replaces the time source used for store-assigned timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
