package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
)

// MessageDeleter removes or recalls a message.
type MessageDeleter interface {
	Delete(ctx context.Context, tenantID, id string, now time.Time) (message.DeleteResult, error)
}

type MessageHandler struct {
	messages MessageDeleter
	logger   *slog.Logger
	now      func() time.Time
}

func NewMessageHandler(log *slog.Logger, messages MessageDeleter) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		logger:   logger.OrDefault(log).With(slog.String("handler", "messages")),
		now:      time.Now,
	}
}

func (h *MessageHandler) Register(e *echo.Echo) {
	e.DELETE("/messages/:id", h.Delete)
}

// Delete godoc
// @Summary Delete a message
// @Description Hard-deletes a message that was never sent, otherwise soft-deletes and recalls it within two hours
// @Tags messages
// @Param id path string true "Message ID"
// @Success 200 {object} message.DeleteResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /messages/{id} [delete]
func (h *MessageHandler) Delete(c echo.Context) error {
	tenantID, err := requireTenant(c)
	if err != nil {
		return err
	}
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	result, err := h.messages.Delete(c.Request().Context(), tenantID, id, h.now())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}
