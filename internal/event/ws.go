package event

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler streams a tenant's events (and optionally one ticket's) over a websocket.
type WSHandler struct {
	hub    *Hub
	logger *slog.Logger
}

func NewWSHandler(log *slog.Logger, hub *Hub) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logger.OrDefault(log).With(slog.String("handler", "events_ws")),
	}
}

func (h *WSHandler) Register(e *echo.Echo) {
	e.GET("/events/ws", h.Serve)
}

// Serve upgrades the request. The tenant comes from the X-Tenant-ID header or the tenant query
// parameter; ticket narrows the stream to one ticket room.
func (h *WSHandler) Serve(c echo.Context) error {
	tenantID := strings.TrimSpace(c.Request().Header.Get("X-Tenant-ID"))
	if tenantID == "" {
		tenantID = strings.TrimSpace(c.QueryParam("tenant"))
	}
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}
	room := TenantRoom(tenantID)
	if ticketID := strings.TrimSpace(c.QueryParam("ticket")); ticketID != "" {
		room = TicketRoom(tenantID, ticketID)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	_, stream, cancel := h.hub.Subscribe(room, DefaultBufferSize)
	go readPump(conn, cancel)
	h.writePump(conn, stream)
	return nil
}

// readPump discards client frames and cancels the subscription when the peer goes away.
func readPump(conn *websocket.Conn, cancel func()) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, stream <-chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev, ok := <-stream:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
