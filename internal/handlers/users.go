package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

// UserHandler handles the ticket side of user removal. Users themselves live elsewhere.
type UserHandler struct {
	tickets TicketService
	logger  *slog.Logger
}

func NewUserHandler(log *slog.Logger, tickets TicketService) *UserHandler {
	return &UserHandler{
		tickets: tickets,
		logger:  logger.OrDefault(log).With(slog.String("handler", "users")),
	}
}

func (h *UserHandler) Register(e *echo.Echo) {
	e.DELETE("/users/:id/tickets", h.ReleaseTickets)
}

// ReleaseTickets godoc
// @Summary Release a removed user's tickets
// @Description Moves every open or pending ticket of the user back to pending without an owner
// @Tags users
// @Param id path string true "User ID"
// @Success 200 {object} ticket.ReleaseResult
// @Failure 500 {object} ErrorResponse
// @Router /users/{id}/tickets [delete]
func (h *UserHandler) ReleaseTickets(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	userID, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	result, err := h.tickets.ReleaseUserTickets(c.Request().Context(), tenantID, userID)
	if err != nil {
		return httpError(err)
	}
	if len(result.Failed) > 0 {
		h.logger.Warn("some tickets were not released",
			slog.String("tenant_id", tenantID),
			slog.String("user_id", userID),
			slog.Int("failed", len(result.Failed)))
	}
	return c.JSON(http.StatusOK, result)
}
