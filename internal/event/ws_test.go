package event

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSHandlerStreamsTenantEvents(t *testing.T) {
	hub := NewHub(nil)
	e := echo.New()
	NewWSHandler(nil, hub).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws?tenant=t1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.rooms[TenantRoom("t1")]) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Publish(TenantRoom("t1"), NameTicketUpdate, map[string]string{"status": "open"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, NameTicketUpdate, ev.Name)
	assert.JSONEq(t, `{"status":"open"}`, string(ev.Payload))
}

func TestWSHandlerRequiresTenant(t *testing.T) {
	e := echo.New()
	NewWSHandler(nil, NewHub(nil)).Register(e)
	req := httptest.NewRequest(http.MethodGet, "/events/ws", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
