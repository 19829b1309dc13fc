package autoreply

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/settings"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// Stepper advances tickets through their tenant's flow. Replies are queued through the
// Outbox and never sent inline.
type Stepper struct {
	flows    Store
	tickets  Tickets
	outbox   Outbox
	settings SettingsSource
	logger   *slog.Logger
	now      func() time.Time
}

func NewStepper(log *slog.Logger, flows Store, tickets Tickets, outbox Outbox, settings SettingsSource) *Stepper {
	return &Stepper{
		flows:    flows,
		tickets:  tickets,
		outbox:   outbox,
		settings: settings,
		logger:   logger.OrDefault(log).With(slog.String("service", "autoreply")),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Stepper) SetClock(now func() time.Time) {
	s.now = now
}

// Graph loads and validates a flow.
func (s *Stepper) Graph(ctx context.Context, tenantID, flowID string) (*Graph, error) {
	f, err := s.flows.GetFlow(ctx, tenantID, flowID)
	if err != nil {
		return nil, err
	}
	g := NewGraph(f)
	warnings, err := g.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.logger.Warn("flow warning", slog.String("tenant_id", tenantID), slog.String("flow_id", flowID), slog.String("warning", w))
	}
	return g, nil
}

// Advance processes one inbound text for t. A ticket without a step enters the flow at
// its initial step when it is open, unassigned and not a group; a ticket on a step moves
// along the chosen option or is prompted again.
func (s *Stepper) Advance(ctx context.Context, t ticket.Ticket, c contacts.Contact, text string) (Result, error) {
	skip := Result{Outcome: OutcomeSkipped, Ticket: t}
	if t.UserID != "" || t.IsGroup || t.Status == ticket.StatusClosed {
		return skip, nil
	}
	cfg, err := s.settings.Get(ctx, t.TenantID)
	if err != nil {
		return Result{}, err
	}
	now := s.now().In(cfg.BusinessHours.Location())

	if !t.ChatbotOwned() {
		if t.Status != ticket.StatusOpen || cfg.ChatbotFlowID == "" {
			return skip, nil
		}
		if len(cfg.TestNumbers) > 0 && t.Channel != channel.TypeTelegram && !cfg.IsTestNumber(c.Number) {
			return skip, nil
		}
		return s.welcome(ctx, t, c, cfg, now)
	}

	g, err := s.Graph(ctx, t.TenantID, t.AutoReplyID)
	if err != nil {
		return Result{}, err
	}
	step, ok := g.Step(t.StepAutoReplyID)
	if !ok {
		return Result{}, apperr.Newf(apperr.KindNotFound, "autoreply.advance", "step %s not in flow %s", t.StepAutoReplyID, t.AutoReplyID)
	}
	choice, ok := Match(step, text)
	if !ok {
		updated, err := s.tickets.AssignChatbot(ctx, t.TenantID, t.ID, t.AutoReplyID, step.ID)
		if err != nil {
			return Result{}, err
		}
		queued, err := s.send(ctx, updated, c, now, step.Reply)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeReprompt, StepID: step.ID, Ticket: updated, Queued: queued}, nil
	}
	return s.apply(ctx, t, c, g, choice, now)
}

func (s *Stepper) welcome(ctx context.Context, t ticket.Ticket, c contacts.Contact, cfg settings.Settings, now time.Time) (Result, error) {
	g, err := s.Graph(ctx, t.TenantID, cfg.ChatbotFlowID)
	if err != nil {
		return Result{}, err
	}
	initial, _ := g.Initial()
	updated, err := s.tickets.AssignChatbot(ctx, t.TenantID, t.ID, g.Flow().ID, initial.ID)
	if err != nil {
		return Result{}, err
	}
	queued, err := s.send(ctx, updated, c, now, initial.Reply)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeWelcome, StepID: initial.ID, Ticket: updated, Queued: queued}, nil
}

func (s *Stepper) apply(ctx context.Context, t ticket.Ticket, c contacts.Contact, g *Graph, it Interaction, now time.Time) (Result, error) {
	if it.Action == ActionNextStep && it.NextStepID != "" {
		next, ok := g.Step(it.NextStepID)
		if !ok {
			return Result{}, apperr.Newf(apperr.KindNotFound, "autoreply.advance", "step %s not in flow %s", it.NextStepID, g.Flow().ID)
		}
		updated, err := s.tickets.AssignChatbot(ctx, t.TenantID, t.ID, g.Flow().ID, next.ID)
		if err != nil {
			return Result{}, err
		}
		queued, err := s.send(ctx, updated, c, now, it.Reply, next.Reply)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeAdvanced, StepID: next.ID, Ticket: updated, Queued: queued}, nil
	}

	handoff := ticket.HandoffInput{TenantID: t.TenantID, TicketID: t.ID}
	switch it.Action {
	case ActionQueue:
		handoff.QueueID = it.QueueID
	case ActionUser:
		handoff.UserID = it.UserID
		handoff.QueueID = it.QueueID
	}
	updated, err := s.tickets.HandoffFromChatbot(ctx, handoff)
	if err != nil {
		return Result{}, err
	}
	queued, err := s.send(ctx, updated, c, now, it.Reply)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeHandoff, Ticket: updated, Queued: queued}, nil
}

func (s *Stepper) send(ctx context.Context, t ticket.Ticket, c contacts.Contact, now time.Time, texts ...string) (int, error) {
	queued := 0
	for _, text := range texts {
		body := strings.TrimSpace(Render(text, c, t, now))
		if body == "" {
			continue
		}
		if err := s.outbox.Queue(ctx, t, body); err != nil {
			return queued, fmt.Errorf("queue bot reply: %w", err)
		}
		queued++
	}
	return queued, nil
}

// Match selects the option of step chosen by text: a leading number picks the option at
// that 1-based position, otherwise an option whose Words equals the text.
func Match(step Step, text string) (Interaction, bool) {
	text = strings.TrimSpace(text)
	if n, ok := leadingNumber(text); ok {
		if n >= 1 && n <= len(step.Interactions) {
			return step.Interactions[n-1], true
		}
		return Interaction{}, false
	}
	for _, it := range step.Interactions {
		if it.Words != "" && strings.EqualFold(strings.TrimSpace(it.Words), text) {
			return it, true
		}
	}
	return Interaction{}, false
}

func leadingNumber(text string) (int, bool) {
	end := 0
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(text[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SaveFlow validates f and stores it. Unreachable steps are returned as warnings.
func (s *Stepper) SaveFlow(ctx context.Context, f Flow) (Flow, []string, error) {
	if f.TenantID == "" || f.Name == "" {
		return Flow{}, nil, apperr.Newf(apperr.KindInvalidPayload, "autoreply.save_flow", "tenant and name are required")
	}
	warnings, err := NewGraph(f).Validate()
	if err != nil {
		return Flow{}, nil, err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	stored, err := s.flows.UpsertFlow(ctx, f)
	if err != nil {
		return Flow{}, nil, err
	}
	return stored, warnings, nil
}
