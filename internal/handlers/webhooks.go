package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

// maxWebhookBody bounds pushed payloads.
const maxWebhookBody = 4 << 20

// WebhookSink parses a pushed payload for a session and queues its events.
type WebhookSink interface {
	HandleWebhook(ctx context.Context, sessionID string, body []byte) (int, error)
}

type WebhookHandler struct {
	sink        WebhookSink
	verifyToken string
	logger      *slog.Logger
}

// NewWebhookHandler builds the inbound webhook endpoints. verifyToken answers the Meta
// subscription handshake; an empty token rejects every handshake.
func NewWebhookHandler(log *slog.Logger, sink WebhookSink, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		sink:        sink,
		verifyToken: verifyToken,
		logger:      logger.OrDefault(log).With(slog.String("handler", "webhooks")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	group := e.Group("/webhooks")
	group.POST("/api/:sessionId", h.Receive)
	group.GET("/meta/:sessionId", h.VerifyMeta)
	group.POST("/meta/:sessionId", h.Receive)
}

// Receive godoc
// @Summary Receive a channel webhook
// @Tags webhooks
// @Param sessionId path string true "Channel session ID"
// @Success 200 {object} map[string]int
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /webhooks/api/{sessionId} [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	sessionID, err := requireParam(c, "sessionId")
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	accepted, err := h.sink.HandleWebhook(c.Request().Context(), sessionID, body)
	if err != nil {
		h.logger.Warn("webhook rejected", slog.String("session_id", sessionID), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"accepted": accepted})
}

// VerifyMeta answers the hub.challenge subscription handshake.
func (h *WebhookHandler) VerifyMeta(c echo.Context) error {
	if c.QueryParam("hub.mode") != "subscribe" || h.verifyToken == "" || c.QueryParam("hub.verify_token") != h.verifyToken {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}
