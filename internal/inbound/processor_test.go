package inbound_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/autoreply"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/inbound"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/memory"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

var at = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type stepper struct {
	texts []string
	err   error
}

func (s *stepper) Advance(_ context.Context, t ticket.Ticket, _ contacts.Contact, text string) (autoreply.Result, error) {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return autoreply.Result{}, s.err
	}
	return autoreply.Result{Outcome: autoreply.OutcomeWelcome, Ticket: t}, nil
}

type outOfHours struct {
	closed  bool
	tickets []string
}

func (o *outOfHours) ScheduleOutOfHours(_ context.Context, t ticket.Ticket, _ time.Time) (bool, error) {
	o.tickets = append(o.tickets, t.ID)
	return o.closed, nil
}

type fixture struct {
	processor  *inbound.Processor
	tickets    *ticket.Service
	messages   *message.Service
	stepper    *stepper
	outOfHours *outOfHours
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	tickets := ticket.NewService(nil, store, nil)
	messages := message.NewService(nil, store, nil)
	st := &stepper{}
	ooh := &outOfHours{}
	p := inbound.NewProcessor(nil, contacts.NewService(nil, store), tickets, messages, st, ooh)
	return &fixture{processor: p, tickets: tickets, messages: messages, stepper: st, outOfHours: ooh}
}

var session = channel.Session{ID: "s1", TenantID: "t1", Type: channel.TypeWhatsApp, Status: channel.StatusConnected}

func text(id, body string) channel.InboundEvent {
	return channel.InboundEvent{
		Kind:            channel.EventMessage,
		SenderID:        "5511999990000",
		SenderName:      "Maria",
		Text:            body,
		Timestamp:       at,
		NativeMessageID: id,
	}
}

func TestHandleInboundCreatesTicketAndRunsFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.processor.HandleInbound(ctx, session, text("wamid.1", "hello")))
	require.NoError(t, f.processor.HandleInbound(ctx, session, text("wamid.1", "hello")))
	assert.Equal(t, []string{"hello"}, f.stepper.texts, "redelivered events are ignored")
	require.Len(t, f.outOfHours.tickets, 1)

	tk, err := f.tickets.Get(ctx, "t1", f.outOfHours.tickets[0])
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, tk.Status)
	assert.Equal(t, "hello", tk.LastMessage)
	assert.Equal(t, 1, tk.UnreadCount)

	items, err := f.messages.ListByTicket(ctx, "t1", tk.ID, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, message.StatusReceived, items[0].Status)
}

func TestHandleInboundOutOfHoursSkipsFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.outOfHours.closed = true
	require.NoError(t, f.processor.HandleInbound(context.Background(), session, text("wamid.1", "hello")))
	assert.Len(t, f.outOfHours.tickets, 1)
	assert.Empty(t, f.stepper.texts)
}

func TestHandleInboundFromMeAndGroups(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	own := text("wamid.1", "sent from the phone")
	own.FromMe = true
	require.NoError(t, f.processor.HandleInbound(ctx, session, own))

	group := text("wamid.2", "hi all")
	group.ChatID = "120363000000@g.us"
	group.IsGroup = true
	require.NoError(t, f.processor.HandleInbound(ctx, session, group))

	assert.Empty(t, f.stepper.texts)
	assert.Empty(t, f.outOfHours.tickets)
}

func TestHandleInboundStepperFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.stepper.err = errors.New("flow broken")
	assert.NoError(t, f.processor.HandleInbound(context.Background(), session, text("wamid.1", "hello")))
}

func TestHandleInboundAck(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.processor.HandleInbound(ctx, session, text("wamid.1", "hello")))
	tk, err := f.tickets.Get(ctx, "t1", f.outOfHours.tickets[0])
	require.NoError(t, err)
	out, err := f.messages.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: tk.ID, Body: "hi"})
	require.NoError(t, err)
	_, err = f.messages.MarkSent(ctx, out, "wamid.out")
	require.NoError(t, err)

	ack := channel.InboundEvent{Kind: channel.EventAck, NativeMessageID: "wamid.out", Ack: message.AckRead}
	require.NoError(t, f.processor.HandleInbound(ctx, session, ack))
	got, err := f.messages.Get(ctx, "t1", out.ID)
	require.NoError(t, err)
	assert.Equal(t, message.AckRead, got.Ack)

	unknown := channel.InboundEvent{Kind: channel.EventAck, NativeMessageID: "wamid.none", Ack: message.AckRead}
	assert.NoError(t, f.processor.HandleInbound(ctx, session, unknown))

	invalid := channel.InboundEvent{Kind: channel.EventAck, NativeMessageID: "wamid.out", Ack: 42}
	assert.True(t, apperr.IsInvalidPayload(f.processor.HandleInbound(ctx, session, invalid)))
}

func TestHandleInboundRequiresMessageID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	err := f.processor.HandleInbound(context.Background(), session, text("", "hello"))
	assert.True(t, apperr.IsInvalidPayload(err))
}
