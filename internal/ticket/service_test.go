package ticket_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/memory"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T) (*ticket.Service, *memory.Store, *event.Recorder, *clock) {
	t.Helper()
	store := memory.New()
	rec := &event.Recorder{}
	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc := ticket.NewService(nil, store, rec)
	svc.SetClock(clk.now)
	return svc, store, rec, clk
}

func inbound(contactID string) ticket.InboundInput {
	return ticket.InboundInput{TenantID: "t1", ContactID: contactID, Channel: channel.TypeWhatsApp, SessionID: "s1"}
}

func logTypes(t *testing.T, svc *ticket.Service, id string) []ticket.LogType {
	t.Helper()
	entries, err := svc.Logs(context.Background(), "t1", id)
	require.NoError(t, err)
	out := make([]ticket.LogType, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Type)
	}
	return out
}

func TestCreateConflictCarriesExistingID(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp})
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, first.Status)

	_, err = svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp, Status: ticket.StatusPending})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, first.ID, apperr.ExistingID(err))

	// Another channel is a separate conversation.
	_, err = svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeTelegram})
	require.NoError(t, err)
}

func TestCreateRejectsClosedStatus(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	_, err := svc.Create(context.Background(), ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp, Status: ticket.StatusClosed})
	assert.True(t, apperr.IsInvalidPayload(err))
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	t.Parallel()
	svc, _, rec, _ := newService(t)
	ctx := context.Background()
	tk, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp})
	require.NoError(t, err)
	before := len(rec.Named(event.NameTicketUpdate))

	got, err := svc.UpdateStatus(ctx, ticket.UpdateStatusInput{TenantID: "t1", TicketID: tk.ID, Status: ticket.StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, tk.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, []ticket.LogType{ticket.LogCreate}, logTypes(t, svc, tk.ID))
	assert.Len(t, rec.Named(event.NameTicketUpdate), before)
}

func TestUpdateStatusTransitions(t *testing.T) {
	t.Parallel()
	svc, _, rec, clk := newService(t)
	ctx := context.Background()
	tk, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp, Status: ticket.StatusPending})
	require.NoError(t, err)

	clk.advance(time.Minute)
	opened, err := svc.UpdateStatus(ctx, ticket.UpdateStatusInput{TenantID: "t1", TicketID: tk.ID, Status: ticket.StatusOpen, UserID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", opened.UserID)

	back, err := svc.UpdateStatus(ctx, ticket.UpdateStatusInput{TenantID: "t1", TicketID: tk.ID, Status: ticket.StatusPending})
	require.NoError(t, err)
	assert.Empty(t, back.UserID)

	closed, err := svc.UpdateStatus(ctx, ticket.UpdateStatusInput{TenantID: "t1", TicketID: tk.ID, Status: ticket.StatusClosed})
	require.NoError(t, err)
	assert.Equal(t, clk.now(), closed.ClosedAt)

	_, err = svc.UpdateStatus(ctx, ticket.UpdateStatusInput{TenantID: "t1", TicketID: tk.ID, Status: ticket.StatusPending})
	assert.True(t, apperr.IsInvalidState(err))

	assert.Equal(t, []ticket.LogType{ticket.LogCreate, ticket.LogOpen, ticket.LogPending, ticket.LogClosed}, logTypes(t, svc, tk.ID))

	events := rec.Named(event.NameTicketUpdate)
	require.NotEmpty(t, events)
	rooms := map[string]bool{}
	for _, ev := range events {
		rooms[ev.Room] = true
	}
	assert.True(t, rooms[event.TenantRoom("t1")])
	assert.True(t, rooms[event.TicketRoom("t1", tk.ID)])
}

func TestUpdateStatusUnknownTicket(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	_, err := svc.UpdateStatus(context.Background(), ticket.UpdateStatusInput{TenantID: "t1", TicketID: "missing", Status: ticket.StatusClosed})
	assert.True(t, errors.Is(err, ticket.ErrTicketNotFound))
	assert.True(t, apperr.IsNotFound(err))
}

func TestOwnershipIsExclusive(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	tk, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp})
	require.NoError(t, err)

	bot, err := svc.AssignChatbot(ctx, "t1", tk.ID, "flow-1", "step-1")
	require.NoError(t, err)
	assert.True(t, bot.ChatbotOwned())
	assert.Empty(t, bot.UserID)
	assert.False(t, bot.ChatbotAt.IsZero())

	human, err := svc.AssignUser(ctx, "t1", tk.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", human.UserID)
	assert.False(t, human.ChatbotOwned())
	assert.Empty(t, human.AutoReplyID)
	assert.True(t, human.ChatbotAt.IsZero())

	bot, err = svc.AssignChatbot(ctx, "t1", tk.ID, "flow-1", "step-2")
	require.NoError(t, err)
	assert.Empty(t, bot.UserID)
	assert.Equal(t, "step-2", bot.StepAutoReplyID)
}

func TestHandoffFromChatbot(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	tk, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp})
	require.NoError(t, err)
	_, err = svc.AssignChatbot(ctx, "t1", tk.ID, "flow-1", "step-1")
	require.NoError(t, err)

	queued, err := svc.HandoffFromChatbot(ctx, ticket.HandoffInput{TenantID: "t1", TicketID: tk.ID, QueueID: "sales"})
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusPending, queued.Status)
	assert.Equal(t, "sales", queued.QueueID)
	assert.False(t, queued.ChatbotOwned())

	_, err = svc.AssignChatbot(ctx, "t1", tk.ID, "flow-1", "step-1")
	require.NoError(t, err)
	assigned, err := svc.HandoffFromChatbot(ctx, ticket.HandoffInput{TenantID: "t1", TicketID: tk.ID, UserID: "agent-2", QueueID: "support"})
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, assigned.Status)
	assert.Equal(t, "agent-2", assigned.UserID)
	assert.Equal(t, "support", assigned.QueueID)
	assert.False(t, assigned.ChatbotOwned())
}

func TestAssignChatbotRejectsClosedTicket(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	tk, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, ticket.UpdateStatusInput{TenantID: "t1", TicketID: tk.ID, Status: ticket.StatusClosed})
	require.NoError(t, err)

	_, err = svc.AssignChatbot(ctx, "t1", tk.ID, "flow-1", "step-1")
	assert.True(t, apperr.IsInvalidState(err))
}

func TestFindOrCreateForInbound(t *testing.T) {
	t.Parallel()
	svc, _, _, clk := newService(t)
	ctx := context.Background()

	created, err := svc.FindOrCreateForInbound(ctx, inbound("c1"))
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, ticket.StatusOpen, created.Ticket.Status)

	again, err := svc.FindOrCreateForInbound(ctx, inbound("c1"))
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.False(t, again.Reopened)
	assert.Equal(t, created.Ticket.ID, again.Ticket.ID)

	_, err = svc.AssignUser(ctx, "t1", created.Ticket.ID, "agent-1")
	require.NoError(t, err)
	clk.advance(time.Hour)
	_, err = svc.UpdateStatus(ctx, ticket.UpdateStatusInput{TenantID: "t1", TicketID: created.Ticket.ID, Status: ticket.StatusClosed})
	require.NoError(t, err)

	clk.advance(time.Hour)
	in := inbound("c1")
	in.SessionID = "s2"
	reopened, err := svc.FindOrCreateForInbound(ctx, in)
	require.NoError(t, err)
	assert.True(t, reopened.Reopened)
	assert.Equal(t, created.Ticket.ID, reopened.Ticket.ID)
	assert.Equal(t, ticket.StatusOpen, reopened.Ticket.Status)
	assert.Equal(t, "s2", reopened.Ticket.SessionID)
	assert.Equal(t, "agent-1", reopened.Ticket.UserID)
	assert.True(t, reopened.Ticket.ClosedAt.IsZero())
	assert.Contains(t, logTypes(t, svc, created.Ticket.ID), ticket.LogReopen)
}

func TestFindOrCreateReopensMostRecent(t *testing.T) {
	t.Parallel()
	svc, store, _, clk := newService(t)
	ctx := context.Background()

	old := ticket.Ticket{ID: "old", TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp, Status: ticket.StatusClosed, CreatedAt: clk.now(), UpdatedAt: clk.now()}
	recent := old
	recent.ID = "recent"
	recent.UpdatedAt = clk.now().Add(time.Hour)
	_, err := store.CreateTicket(ctx, old)
	require.NoError(t, err)
	_, err = store.CreateTicket(ctx, recent)
	require.NoError(t, err)

	res, err := svc.FindOrCreateForInbound(ctx, inbound("c1"))
	require.NoError(t, err)
	assert.True(t, res.Reopened)
	assert.Equal(t, "recent", res.Ticket.ID)
}

func TestEnsureForOutbound(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	in := ticket.OutboundInput{TenantID: "t1", ContactID: "c9", Channel: channel.TypeWhatsApp, SessionID: "s1"}

	first, err := svc.EnsureForOutbound(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusClosed, first.Status)

	second, err := svc.EnsureForOutbound(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A reply from the contact reopens the campaign ticket.
	res, err := svc.FindOrCreateForInbound(ctx, ticket.InboundInput{TenantID: "t1", ContactID: "c9", Channel: channel.TypeWhatsApp})
	require.NoError(t, err)
	assert.True(t, res.Reopened)
	assert.Equal(t, first.ID, res.Ticket.ID)
}

func TestReleaseUserTickets(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	ids := make([]string, 0, 3)
	for _, c := range []string{"c1", "c2", "c3"} {
		tk, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: c, Channel: channel.TypeWhatsApp, UserID: "agent-1"})
		require.NoError(t, err)
		ids = append(ids, tk.ID)
	}
	_, err := svc.UpdateStatus(ctx, ticket.UpdateStatusInput{TenantID: "t1", TicketID: ids[2], Status: ticket.StatusClosed})
	require.NoError(t, err)

	res, err := svc.ReleaseUserTickets(ctx, "t1", "agent-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], res.Released)
	assert.Empty(t, res.Failed)
	for _, id := range ids[:2] {
		got, err := svc.Get(ctx, "t1", id)
		require.NoError(t, err)
		assert.Equal(t, ticket.StatusPending, got.Status)
		assert.Empty(t, got.UserID)
		assert.Contains(t, logTypes(t, svc, id), ticket.LogUserRemoved)
	}
}

type failingUpdates struct {
	*memory.Store
	failID string
}

func (f failingUpdates) UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	if t.ID == f.failID {
		return ticket.Ticket{}, errors.New("db down")
	}
	return f.Store.UpdateTicket(ctx, t)
}

func TestReleaseUserTicketsContinuesPastFailures(t *testing.T) {
	t.Parallel()
	base := memory.New()
	ctx := context.Background()
	seed := ticket.NewService(nil, base, nil)
	a, err := seed.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp, UserID: "agent-1"})
	require.NoError(t, err)
	b, err := seed.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c2", Channel: channel.TypeWhatsApp, UserID: "agent-1"})
	require.NoError(t, err)

	svc := ticket.NewService(nil, failingUpdates{Store: base, failID: a.ID}, nil)
	res, err := svc.ReleaseUserTickets(ctx, "t1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, res.Failed)
	assert.Equal(t, []string{b.ID}, res.Released)
}

func TestCloseInactive(t *testing.T) {
	t.Parallel()
	svc, _, _, clk := newService(t)
	ctx := context.Background()

	stale, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp, Status: ticket.StatusPending})
	require.NoError(t, err)
	clk.advance(4 * 24 * time.Hour)
	fresh, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c2", Channel: channel.TypeWhatsApp, Status: ticket.StatusPending})
	require.NoError(t, err)

	closed, err := svc.CloseInactive(ctx, "t1", 3, clk.now())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	got, err := svc.Get(ctx, "t1", stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusClosed, got.Status)
	assert.Equal(t, []ticket.LogType{ticket.LogCreate, ticket.LogAutoClose}, logTypes(t, svc, stale.ID))

	got, err = svc.Get(ctx, "t1", fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusPending, got.Status)

	_, err = svc.CloseInactive(ctx, "t1", 0, clk.now())
	assert.True(t, apperr.IsConfiguration(err))
}

func TestTouchLastMessageKeepsTicketAlive(t *testing.T) {
	t.Parallel()
	svc, _, _, clk := newService(t)
	ctx := context.Background()
	tk, err := svc.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: channel.TypeWhatsApp})
	require.NoError(t, err)

	clk.advance(5 * 24 * time.Hour)
	touched, err := svc.TouchLastMessage(ctx, "t1", tk.ID, ticket.TouchInput{Body: "hello", Inbound: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", touched.LastMessage)
	assert.Equal(t, 1, touched.UnreadCount)

	closed, err := svc.CloseInactive(ctx, "t1", 3, clk.now())
	require.NoError(t, err)
	assert.Zero(t, closed)
}
