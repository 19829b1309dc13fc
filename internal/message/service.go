// Package message persists conversation messages and tracks their delivery state.
package message

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

// Service persists messages and publishes message:update for every visible change.
type Service struct {
	store    Store
	events   event.Broadcaster
	recaller Recaller
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(log *slog.Logger, store Store, events event.Broadcaster) *Service {
	return &Service{
		store:  store,
		events: events,
		logger: logger.OrDefault(log).With(slog.String("service", "message")),
		now:    time.Now,
	}
}

// SetRecaller installs the platform recall used by Delete.
func (s *Service) SetRecaller(r Recaller) {
	s.recaller = r
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Message, error) {
	return s.store.GetMessage(ctx, tenantID, id)
}

func (s *Service) ListByTicket(ctx context.Context, tenantID, ticketID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByTicket(ctx, tenantID, ticketID, limit)
}

// PersistInbound stores a platform message once; a redelivered native id returns the
// stored row with created=false.
func (s *Service) PersistInbound(ctx context.Context, in InboundInput) (Message, bool, error) {
	if in.TicketID == "" || in.NativeID == "" {
		return Message{}, false, apperr.Newf(apperr.KindInvalidPayload, "message.persist_inbound", "ticket and native id are required")
	}
	now := s.now().UTC()
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}
	m := Message{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		TicketID:  in.TicketID,
		ContactID: in.ContactID,
		Body:      in.Body,
		FromMe:    in.FromMe,
		NativeID:  in.NativeID,
		Status:    StatusReceived,
		Ack:       AckPending,
		Timestamp: ts.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.FromMe {
		m.Status = StatusSended
		m.Ack = AckSent
	}
	if in.Media != nil {
		m.MediaURL = in.Media.URL
		m.MediaType = in.Media.MimeType
	}
	if in.QuotedNativeID != "" {
		quoted, err := s.store.FindByNativeID(ctx, in.TenantID, in.QuotedNativeID)
		switch {
		case err == nil:
			m.QuotedMsgID = quoted.ID
		case !apperr.IsNotFound(err):
			return Message{}, false, err
		}
	}
	stored, inserted, err := s.store.InsertMessage(ctx, m)
	if err != nil {
		return Message{}, false, err
	}
	if inserted {
		s.publish(stored, "create")
	}
	return stored, inserted, nil
}

// CreateOutbound stores a pending outbound message for a worker to send.
func (s *Service) CreateOutbound(ctx context.Context, in OutboundInput) (Message, error) {
	m, err := s.outbound(in)
	if err != nil {
		return Message{}, err
	}
	stored, _, err := s.store.InsertMessage(ctx, m)
	if err != nil {
		return Message{}, err
	}
	s.publish(stored, "create")
	return stored, nil
}

// RecordSent stores an outbound message that was delivered without a pending row.
func (s *Service) RecordSent(ctx context.Context, in OutboundInput, nativeID string) (Message, error) {
	m, err := s.outbound(in)
	if err != nil {
		return Message{}, err
	}
	m.NativeID = nativeID
	m.Status = StatusSended
	m.Ack = AckSent
	stored, _, err := s.store.InsertMessage(ctx, m)
	if err != nil {
		return Message{}, err
	}
	s.publish(stored, "create")
	return stored, nil
}

func (s *Service) outbound(in OutboundInput) (Message, error) {
	if strings.TrimSpace(in.Body) == "" && in.Media == nil {
		return Message{}, apperr.Newf(apperr.KindInvalidPayload, "message.outbound", "message has neither body nor media")
	}
	if in.TenantID == "" || in.TicketID == "" {
		return Message{}, apperr.Newf(apperr.KindInvalidPayload, "message.outbound", "tenant and ticket are required")
	}
	now := s.now().UTC()
	m := Message{
		ID:          uuid.NewString(),
		TenantID:    in.TenantID,
		TicketID:    in.TicketID,
		ContactID:   in.ContactID,
		Body:        in.Body,
		FromMe:      true,
		Status:      StatusPending,
		Ack:         AckPending,
		QuotedMsgID: in.QuotedMsgID,
		Timestamp:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !in.ScheduleAt.IsZero() {
		m.ScheduleAt = in.ScheduleAt.UTC()
	}
	if in.Media != nil {
		m.MediaURL = in.Media.URL
		m.MediaType = in.Media.MimeType
	}
	return m, nil
}

// MarkSent records the platform id of a delivered message.
func (s *Service) MarkSent(ctx context.Context, m Message, nativeID string) (Message, error) {
	m.NativeID = nativeID
	m.Status = StatusSended
	if ack, changed := NextAck(m.Ack, AckSent); changed {
		m.Ack = ack
	}
	m.Error = ""
	m.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateMessage(ctx, m)
	if err != nil {
		return Message{}, err
	}
	s.publish(updated, "update")
	return updated, nil
}

// MarkError records a permanent send failure.
func (s *Service) MarkError(ctx context.Context, m Message, reason string) (Message, error) {
	m.Status = StatusError
	m.Ack = AckError
	m.Error = reason
	m.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateMessage(ctx, m)
	if err != nil {
		return Message{}, err
	}
	s.publish(updated, "update")
	return updated, nil
}

// UpdateAck applies a delivery acknowledgement. Stale acks are ignored.
func (s *Service) UpdateAck(ctx context.Context, tenantID, nativeID string, ack int) (Message, bool, error) {
	if ack < AckError || ack > AckPlayed {
		return Message{}, false, apperr.Newf(apperr.KindInvalidPayload, "message.update_ack", "ack %d out of range", ack)
	}
	m, changed, err := s.store.ApplyAck(ctx, tenantID, nativeID, ack)
	if err != nil {
		return Message{}, false, err
	}
	if changed {
		s.publish(m, "update")
	}
	return m, changed, nil
}

// Delete removes a message that never left the helpdesk, or soft-deletes a delivered one
// younger than DeleteWindow and asks the platform to recall it.
func (s *Service) Delete(ctx context.Context, tenantID, id string, now time.Time) (DeleteResult, error) {
	m, err := s.store.GetMessage(ctx, tenantID, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if m.IsDeleted {
		return DeleteResult{Message: m}, nil
	}
	if m.LocallyPending() {
		removed, err := s.store.DeletePending(ctx, tenantID, id)
		if err != nil {
			return DeleteResult{}, err
		}
		if removed {
			s.publish(m, "delete")
			return DeleteResult{Message: m, Hard: true}, nil
		}
		// A worker sent it meanwhile; continue with the delivered path.
		if m, err = s.store.GetMessage(ctx, tenantID, id); err != nil {
			return DeleteResult{}, err
		}
	}
	if now.Sub(m.Timestamp) > DeleteWindow {
		return DeleteResult{}, apperr.Newf(apperr.KindInvalidState, "message.delete", "message %s is older than %s", m.ID, DeleteWindow)
	}
	m.IsDeleted = true
	m.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateMessage(ctx, m)
	if err != nil {
		return DeleteResult{}, err
	}
	result := DeleteResult{Message: updated}
	if s.recaller != nil && m.FromMe && m.NativeID != "" {
		if err := s.recaller.Recall(ctx, updated); err != nil {
			s.logger.Warn("recall message failed",
				slog.String("tenant_id", tenantID),
				slog.String("message_id", m.ID),
				slog.Any("error", err))
		} else {
			result.Unsent = true
		}
	}
	s.publish(updated, "update")
	return result, nil
}

// ListPendingByTenant returns due unsent messages of a tenant, oldest first.
func (s *Service) ListPendingByTenant(ctx context.Context, tenantID string, now time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListPending(ctx, tenantID, now, limit)
}

// PromoteDueScheduled returns the tenants whose scheduled messages have come due, so a
// send job can be queued for each.
func (s *Service) PromoteDueScheduled(ctx context.Context, now time.Time) ([]string, error) {
	tenants, err := s.store.ListTenantsWithDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list tenants with due messages: %w", err)
	}
	return tenants, nil
}

func (s *Service) publish(m Message, action string) {
	event.PublishTicket(s.events, m.TenantID, m.TicketID, event.NameMessageUpdate, map[string]any{
		"action":  action,
		"message": m,
	})
}
