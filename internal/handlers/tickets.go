package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// TicketService is the ticket state machine as the API uses it.
type TicketService interface {
	Get(ctx context.Context, tenantID, id string) (ticket.Ticket, error)
	Logs(ctx context.Context, tenantID, id string) ([]ticket.LogEntry, error)
	Create(ctx context.Context, in ticket.CreateInput) (ticket.Ticket, error)
	UpdateStatus(ctx context.Context, in ticket.UpdateStatusInput) (ticket.Ticket, error)
	ReleaseUserTickets(ctx context.Context, tenantID, userID string) (ticket.ReleaseResult, error)
}

// MessageSubmitter stores an outbound message and wakes the send job.
type MessageSubmitter interface {
	Submit(ctx context.Context, in message.OutboundInput) (message.Message, error)
}

// MessageLister reads the history of a ticket.
type MessageLister interface {
	ListByTicket(ctx context.Context, tenantID, ticketID string, limit int) ([]message.Message, error)
}

type TicketHandler struct {
	tickets  TicketService
	outbox   MessageSubmitter
	messages MessageLister
	logger   *slog.Logger
}

func NewTicketHandler(log *slog.Logger, tickets TicketService, outbox MessageSubmitter, messages MessageLister) *TicketHandler {
	return &TicketHandler{
		tickets:  tickets,
		outbox:   outbox,
		messages: messages,
		logger:   logger.OrDefault(log).With(slog.String("handler", "tickets")),
	}
}

func (h *TicketHandler) Register(e *echo.Echo) {
	group := e.Group("/tickets")
	group.POST("", h.Create)
	group.GET("/:id", h.Get)
	group.GET("/:id/logs", h.Logs)
	group.PUT("/:id/status", h.UpdateStatus)
	group.GET("/:id/messages", h.ListMessages)
	group.POST("/:id/messages", h.SendMessage)
}

type CreateTicketRequest struct {
	ContactID string `json:"contactId"`
	Channel   string `json:"channel"`
	SessionID string `json:"channelSessionId"`
	Status    string `json:"status"`
	UserID    string `json:"userId"`
	QueueID   string `json:"queueId"`
	IsGroup   bool   `json:"isGroup"`
}

// Create godoc
// @Summary Create ticket
// @Description Opens a ticket unless the contact already has an active one on the channel
// @Tags tickets
// @Param payload body CreateTicketRequest true "Ticket payload"
// @Success 201 {object} ticket.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ConflictResponse
// @Failure 500 {object} ErrorResponse
// @Router /tickets [post]
func (h *TicketHandler) Create(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	var req CreateTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	channelType, err := channel.ParseType(req.Channel)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.tickets.Create(c.Request().Context(), ticket.CreateInput{
		TenantID:  tenantID,
		ContactID: req.ContactID,
		Channel:   channelType,
		SessionID: req.SessionID,
		Status:    ticket.Status(req.Status),
		UserID:    req.UserID,
		QueueID:   req.QueueID,
		IsGroup:   req.IsGroup,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// Get godoc
// @Summary Get ticket
// @Tags tickets
// @Param id path string true "Ticket ID"
// @Success 200 {object} ticket.Ticket
// @Failure 404 {object} ErrorResponse
// @Router /tickets/{id} [get]
func (h *TicketHandler) Get(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	item, err := h.tickets.Get(c.Request().Context(), tenantID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *TicketHandler) Logs(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.tickets.Logs(c.Request().Context(), tenantID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

type UpdateStatusRequest struct {
	Status  string `json:"status"`
	UserID  string `json:"userId"`
	QueueID string `json:"queueId"`
}

// UpdateStatus godoc
// @Summary Change ticket status
// @Description Applies an open, pending or closed transition; opening assigns the acting user
// @Tags tickets
// @Param id path string true "Ticket ID"
// @Param payload body UpdateStatusRequest true "Status payload"
// @Success 200 {object} ticket.Ticket
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tickets/{id}/status [put]
func (h *TicketHandler) UpdateStatus(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	updated, err := h.tickets.UpdateStatus(c.Request().Context(), ticket.UpdateStatusInput{
		TenantID: tenantID,
		TicketID: id,
		Status:   ticket.Status(req.Status),
		UserID:   req.UserID,
		QueueID:  req.QueueID,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// ListMessages godoc
// @Summary List ticket messages
// @Tags messages
// @Param id path string true "Ticket ID"
// @Param limit query int false "Newest messages to return"
// @Success 200 {object} map[string]any
// @Router /tickets/{id}/messages [get]
func (h *TicketHandler) ListMessages(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	items, err := h.messages.ListByTicket(c.Request().Context(), tenantID, id, limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

type SendMessageRequest struct {
	Body        string    `json:"body"`
	MediaURL    string    `json:"mediaUrl"`
	MediaType   string    `json:"mediaType"`
	QuotedMsgID string    `json:"quotedMsgId"`
	ScheduleAt  time.Time `json:"scheduleDate"`
}

// SendMessage godoc
// @Summary Queue or schedule an outbound message
// @Description Stores the message as pending; the per-tenant send job delivers it
// @Tags messages
// @Param id path string true "Ticket ID"
// @Param payload body SendMessageRequest true "Message payload"
// @Success 202 {object} message.Message
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /tickets/{id}/messages [post]
func (h *TicketHandler) SendMessage(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	t, err := h.tickets.Get(ctx, tenantID, id)
	if err != nil {
		return httpError(err)
	}
	in := message.OutboundInput{
		TenantID:    tenantID,
		TicketID:    t.ID,
		ContactID:   t.ContactID,
		Body:        req.Body,
		QuotedMsgID: req.QuotedMsgID,
		ScheduleAt:  req.ScheduleAt,
	}
	if req.MediaURL != "" {
		in.Media = &channel.Media{URL: req.MediaURL, MimeType: req.MediaType}
	}
	m, err := h.outbox.Submit(ctx, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, m)
}
