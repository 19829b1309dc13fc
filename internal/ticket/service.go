package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

// Service is the ticket state machine. Every transition appends an audit entry and
// publishes ticket:update; a transition to the current status is a no-op.
type Service struct {
	store  Store
	events event.Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

func NewService(log *slog.Logger, store Store, events event.Broadcaster) *Service {
	return &Service{
		store:  store,
		events: events,
		logger: logger.OrDefault(log).With(slog.String("service", "ticket")),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Ticket, error) {
	return s.store.GetTicket(ctx, tenantID, id)
}

func (s *Service) Logs(ctx context.Context, tenantID, id string) ([]LogEntry, error) {
	return s.store.ListLogs(ctx, tenantID, id)
}

// Create opens a ticket unless the contact already has an active one on the channel,
// in which case the conflict error carries the existing ticket id.
func (s *Service) Create(ctx context.Context, in CreateInput) (Ticket, error) {
	status := in.Status
	if status == "" {
		status = StatusOpen
	}
	if !status.Active() {
		return Ticket{}, apperr.Newf(apperr.KindInvalidPayload, "ticket.create", "tickets are created open or pending, got %q", status)
	}
	if in.TenantID == "" || in.ContactID == "" || in.Channel == "" {
		return Ticket{}, apperr.Newf(apperr.KindInvalidPayload, "ticket.create", "tenant, contact and channel are required")
	}
	now := s.now().UTC()
	t := Ticket{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		ContactID: in.ContactID,
		Channel:   in.Channel,
		SessionID: in.SessionID,
		Status:    status,
		UserID:    in.UserID,
		QueueID:   in.QueueID,
		IsGroup:   in.IsGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.store.CreateTicket(ctx, t)
	if err != nil {
		return Ticket{}, err
	}
	s.record(ctx, created, LogCreate, in.UserID)
	return created, nil
}

// FindOrCreateForInbound returns the active ticket of the contact on the channel, else
// reopens the most recent prior ticket, else creates a new open one.
func (s *Service) FindOrCreateForInbound(ctx context.Context, in InboundInput) (InboundResult, error) {
	active, err := s.store.FindActive(ctx, in.TenantID, in.ContactID, in.Channel)
	if err == nil {
		return InboundResult{Ticket: active}, nil
	}
	if !apperr.IsNotFound(err) {
		return InboundResult{}, err
	}

	latest, err := s.store.FindLatest(ctx, in.TenantID, in.ContactID, in.Channel)
	switch {
	case err == nil:
		reopened, err := s.reopen(ctx, latest, in.SessionID)
		if err != nil {
			return s.resolveConflict(ctx, in, err)
		}
		return InboundResult{Ticket: reopened, Reopened: true}, nil
	case !apperr.IsNotFound(err):
		return InboundResult{}, err
	}

	created, err := s.Create(ctx, CreateInput{
		TenantID:  in.TenantID,
		ContactID: in.ContactID,
		Channel:   in.Channel,
		SessionID: in.SessionID,
		Status:    StatusOpen,
		IsGroup:   in.IsGroup,
	})
	if err != nil {
		return s.resolveConflict(ctx, in, err)
	}
	return InboundResult{Ticket: created, Created: true}, nil
}

// resolveConflict absorbs the race where a concurrent event activated a ticket first.
func (s *Service) resolveConflict(ctx context.Context, in InboundInput, err error) (InboundResult, error) {
	if !apperr.IsConflict(err) {
		return InboundResult{}, err
	}
	active, getErr := s.store.FindActive(ctx, in.TenantID, in.ContactID, in.Channel)
	if getErr != nil {
		return InboundResult{}, fmt.Errorf("resolve concurrent ticket: %w", getErr)
	}
	return InboundResult{Ticket: active}, nil
}

func (s *Service) reopen(ctx context.Context, t Ticket, sessionID string) (Ticket, error) {
	t.Status = StatusOpen
	t.clearChatbot()
	t.ClosedAt = time.Time{}
	if sessionID != "" {
		t.SessionID = sessionID
	}
	t.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateTicket(ctx, t)
	if err != nil {
		return Ticket{}, err
	}
	s.record(ctx, updated, LogReopen, "")
	return updated, nil
}

// EnsureForOutbound returns a ticket to attach an outbound message to: the active one,
// else the most recent one as is, else a new closed ticket that a reply will reopen.
func (s *Service) EnsureForOutbound(ctx context.Context, in OutboundInput) (Ticket, error) {
	active, err := s.store.FindActive(ctx, in.TenantID, in.ContactID, in.Channel)
	if err == nil {
		return active, nil
	}
	if !apperr.IsNotFound(err) {
		return Ticket{}, err
	}
	latest, err := s.store.FindLatest(ctx, in.TenantID, in.ContactID, in.Channel)
	if err == nil {
		return latest, nil
	}
	if !apperr.IsNotFound(err) {
		return Ticket{}, err
	}
	now := s.now().UTC()
	created, err := s.store.CreateTicket(ctx, Ticket{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		ContactID: in.ContactID,
		Channel:   in.Channel,
		SessionID: in.SessionID,
		Status:    StatusClosed,
		CreatedAt: now,
		UpdatedAt: now,
		ClosedAt:  now,
	})
	if err != nil {
		return Ticket{}, err
	}
	s.record(ctx, created, LogCreate, "")
	return created, nil
}

// allowed is the transition table; same-status pairs are handled before lookup.
var allowed = map[Status]map[Status]bool{
	StatusOpen:    {StatusPending: true, StatusClosed: true},
	StatusPending: {StatusOpen: true, StatusClosed: true},
	StatusClosed:  {StatusOpen: true},
}

// UpdateStatus applies a status transition. Opening assigns the acting user and clears
// chatbot ownership; moving to pending releases the user.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (Ticket, error) {
	if !in.Status.valid() {
		return Ticket{}, apperr.Newf(apperr.KindInvalidPayload, "ticket.update_status", "unknown status %q", in.Status)
	}
	t, err := s.store.GetTicket(ctx, in.TenantID, in.TicketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status == in.Status {
		return t, nil
	}
	if !allowed[t.Status][in.Status] {
		return Ticket{}, apperr.Newf(apperr.KindInvalidState, "ticket.update_status", "cannot move ticket %s from %s to %s", t.ID, t.Status, in.Status)
	}
	logType := in.LogType
	now := s.now().UTC()
	switch in.Status {
	case StatusOpen:
		if logType == "" {
			logType = LogOpen
			if t.Status == StatusClosed {
				logType = LogReopen
			}
		}
		if in.UserID != "" {
			t.UserID = in.UserID
		}
		t.clearChatbot()
		t.ClosedAt = time.Time{}
	case StatusPending:
		if logType == "" {
			logType = LogPending
		}
		t.UserID = ""
	case StatusClosed:
		if logType == "" {
			logType = LogClosed
		}
		t.clearChatbot()
		t.ClosedAt = now
	}
	if in.QueueID != "" {
		t.QueueID = in.QueueID
	}
	prev := t.Status
	t.Status = in.Status
	t.UpdatedAt = now
	updated, err := s.store.UpdateTicket(ctx, t)
	if err != nil {
		return Ticket{}, err
	}
	s.logger.Debug("ticket transition",
		slog.String("tenant_id", t.TenantID),
		slog.String("ticket_id", t.ID),
		slog.String("from", string(prev)),
		slog.String("to", string(in.Status)))
	s.record(ctx, updated, logType, in.UserID)
	return updated, nil
}

// AssignUser gives the ticket to a human, which always ends chatbot ownership.
func (s *Service) AssignUser(ctx context.Context, tenantID, ticketID, userID string) (Ticket, error) {
	if userID == "" {
		return Ticket{}, apperr.Newf(apperr.KindInvalidPayload, "ticket.assign_user", "user is required")
	}
	t, err := s.store.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.UserID == userID && !t.ChatbotOwned() && t.Status == StatusOpen {
		return t, nil
	}
	t.UserID = userID
	t.clearChatbot()
	t.Status = StatusOpen
	t.ClosedAt = time.Time{}
	t.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateTicket(ctx, t)
	if err != nil {
		return Ticket{}, err
	}
	s.record(ctx, updated, LogManual, userID)
	return updated, nil
}

// AssignChatbot hands the conversation to the flow at stepID. Human ownership is released.
func (s *Service) AssignChatbot(ctx context.Context, tenantID, ticketID, flowID, stepID string) (Ticket, error) {
	if flowID == "" || stepID == "" {
		return Ticket{}, apperr.Newf(apperr.KindInvalidPayload, "ticket.assign_chatbot", "flow and step are required")
	}
	t, err := s.store.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status == StatusClosed {
		return Ticket{}, apperr.Newf(apperr.KindInvalidState, "ticket.assign_chatbot", "ticket %s is closed", t.ID)
	}
	now := s.now().UTC()
	t.UserID = ""
	t.AutoReplyID = flowID
	t.StepAutoReplyID = stepID
	t.ChatbotAt = now
	t.UpdatedAt = now
	updated, err := s.store.UpdateTicket(ctx, t)
	if err != nil {
		return Ticket{}, err
	}
	s.record(ctx, updated, LogChatbot, "")
	return updated, nil
}

// HandoffFromChatbot ends chatbot ownership: to a user when one is named, else to the
// queue as pending.
func (s *Service) HandoffFromChatbot(ctx context.Context, in HandoffInput) (Ticket, error) {
	if in.UserID != "" {
		t, err := s.AssignUser(ctx, in.TenantID, in.TicketID, in.UserID)
		if err != nil || in.QueueID == "" || t.QueueID == in.QueueID {
			return t, err
		}
		t.QueueID = in.QueueID
		return s.store.UpdateTicket(ctx, t)
	}
	t, err := s.store.GetTicket(ctx, in.TenantID, in.TicketID)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status == StatusClosed {
		return Ticket{}, apperr.Newf(apperr.KindInvalidState, "ticket.handoff", "ticket %s is closed", t.ID)
	}
	t.clearChatbot()
	t.UserID = ""
	t.Status = StatusPending
	if in.QueueID != "" {
		t.QueueID = in.QueueID
	}
	t.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateTicket(ctx, t)
	if err != nil {
		return Ticket{}, err
	}
	s.record(ctx, updated, LogChatbot, "")
	return updated, nil
}

// ReleaseUserTickets moves every active ticket of a deleted user back to pending. Each
// ticket is updated independently; failures are collected, not returned.
func (s *Service) ReleaseUserTickets(ctx context.Context, tenantID, userID string) (ReleaseResult, error) {
	items, err := s.store.ListByUser(ctx, tenantID, userID, []Status{StatusOpen, StatusPending})
	if err != nil {
		return ReleaseResult{}, err
	}
	result := ReleaseResult{Released: []string{}, Failed: []string{}}
	for _, t := range items {
		t.UserID = ""
		t.Status = StatusPending
		t.UpdatedAt = s.now().UTC()
		updated, err := s.store.UpdateTicket(ctx, t)
		if err != nil {
			s.logger.Error("release ticket failed",
				slog.String("tenant_id", tenantID),
				slog.String("ticket_id", t.ID),
				slog.String("user_id", userID),
				slog.Any("error", err))
			result.Failed = append(result.Failed, t.ID)
			continue
		}
		s.record(ctx, updated, LogUserRemoved, userID)
		result.Released = append(result.Released, t.ID)
	}
	return result, nil
}

// CloseInactive closes open and pending tickets idle for more than daysToClose days.
// It returns the number closed; a failing ticket does not stop the sweep.
func (s *Service) CloseInactive(ctx context.Context, tenantID string, daysToClose int, now time.Time) (int, error) {
	if daysToClose <= 0 {
		return 0, apperr.Newf(apperr.KindConfiguration, "ticket.close_inactive", "daysToClose must be > 0, got %d", daysToClose)
	}
	cutoff := now.Add(-time.Duration(daysToClose) * 24 * time.Hour)
	items, err := s.store.ListInactive(ctx, tenantID, []Status{StatusOpen, StatusPending}, cutoff)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, t := range items {
		_, err := s.UpdateStatus(ctx, UpdateStatusInput{
			TenantID: tenantID,
			TicketID: t.ID,
			Status:   StatusClosed,
			LogType:  LogAutoClose,
		})
		if err != nil {
			s.logger.Error("auto close failed", slog.String("tenant_id", tenantID), slog.String("ticket_id", t.ID), slog.Any("error", err))
			continue
		}
		closed++
	}
	return closed, nil
}

// ChatbotInactive lists chatbot-owned tickets whose last bot interaction is before cutoff.
func (s *Service) ChatbotInactive(ctx context.Context, tenantID string, cutoff time.Time) ([]Ticket, error) {
	return s.store.ListChatbotIdle(ctx, tenantID, cutoff)
}

// TouchLastMessage records message activity; inbound messages add to the unread count.
func (s *Service) TouchLastMessage(ctx context.Context, tenantID, ticketID string, in TouchInput) (Ticket, error) {
	if in.At.IsZero() {
		in.At = s.now().UTC()
	}
	updated, err := s.store.TouchTicket(ctx, tenantID, ticketID, in)
	if err != nil {
		return Ticket{}, err
	}
	s.publish(updated)
	return updated, nil
}

func (s *Service) record(ctx context.Context, t Ticket, logType LogType, userID string) {
	entry := LogEntry{
		ID:        uuid.NewString(),
		TenantID:  t.TenantID,
		TicketID:  t.ID,
		Type:      logType,
		UserID:    userID,
		QueueID:   t.QueueID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendLog(ctx, entry); err != nil {
		s.logger.Warn("append ticket log failed", slog.String("ticket_id", t.ID), slog.String("type", string(logType)), slog.Any("error", err))
	}
	s.publish(t)
}

func (s *Service) publish(t Ticket) {
	event.PublishTicket(s.events, t.TenantID, t.ID, event.NameTicketUpdate, map[string]any{
		"action": "update",
		"ticket": t,
	})
}
