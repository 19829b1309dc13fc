package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/jobs"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/memory"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

type sink struct {
	sessions []string
	bodies   []string
	err      error
}

func (s *sink) HandleWebhook(_ context.Context, sessionID string, body []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.sessions = append(s.sessions, sessionID)
	s.bodies = append(s.bodies, string(body))
	return 1, nil
}

type api struct {
	echo     *echo.Echo
	store    *memory.Store
	broker   *queue.MemoryBroker
	tickets  *ticket.Service
	messages *message.Service
	sink     *sink
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := memory.New()
	broker := queue.NewMemoryBroker()
	q := queue.New(nil, broker)
	q.Declare(jobs.SendMessages, queue.Options{})
	q.Declare(campaign.QueueName, queue.Options{})

	tickets := ticket.NewService(nil, store, nil)
	messages := message.NewService(nil, store, nil)
	hooks := &sink{}
	e := echo.New()
	for _, h := range []interface{ Register(*echo.Echo) }{
		NewPingHandler(nil),
		NewTicketHandler(nil, tickets, jobs.NewOutbox(nil, messages, q), messages),
		NewMessageHandler(nil, messages),
		NewUserHandler(nil, tickets),
		NewCampaignHandler(nil, campaign.NewService(nil, store, q)),
		NewWebhookHandler(nil, hooks, "secret"),
	} {
		h.Register(e)
	}
	return &api{echo: e, store: store, broker: broker, tickets: tickets, messages: messages, sink: hooks}
}

func (a *api) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(TenantHeader, "t1")
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const createBody = `{"contactId":"c1","channel":"whatsapp","channelSessionId":"s1"}`

func TestPing(t *testing.T) {
	t.Parallel()
	rec := newAPI(t).do(http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateTicketConflictCarriesExistingID(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/tickets", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ticket.Ticket](t, rec)
	assert.Equal(t, ticket.StatusOpen, created.Status)

	rec = a.do(http.MethodPost, "/tickets", createBody)
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[ConflictResponse](t, rec)
	assert.Equal(t, created.ID, conflict.TicketID)
}

func TestCreateTicketRequiresTenantAndChannel(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader(createBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/tickets", `{"contactId":"c1","channel":"fax"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	created := decode[ticket.Ticket](t, a.do(http.MethodPost, "/tickets", createBody))

	rec := a.do(http.MethodPut, "/tickets/"+created.ID+"/status", `{"status":"closed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ticket.StatusClosed, decode[ticket.Ticket](t, rec).Status)

	rec = a.do(http.MethodPut, "/tickets/missing/status", `{"status":"open"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodPut, "/tickets/"+created.ID+"/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageQueuesOneSendJob(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	created := decode[ticket.Ticket](t, a.do(http.MethodPost, "/tickets", createBody))

	for _, body := range []string{`{"body":"first"}`, `{"body":"second"}`} {
		rec := a.do(http.MethodPost, "/tickets/"+created.ID+"/messages", body)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		m := decode[message.Message](t, rec)
		assert.Equal(t, message.StatusPending, m.Status)
		assert.Equal(t, "c1", m.ContactID)
	}
	assert.Len(t, a.broker.Jobs(jobs.SendMessages), 1)

	rec := a.do(http.MethodGet, "/tickets/"+created.ID+"/messages?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct{ Items []message.Message }](t, rec)
	require.Len(t, list.Items, 1)
}

func TestScheduledMessageWaitsForPromotion(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	created := decode[ticket.Ticket](t, a.do(http.MethodPost, "/tickets", createBody))

	at := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec := a.do(http.MethodPost, "/tickets/"+created.ID+"/messages", `{"body":"later","scheduleDate":"`+at+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Empty(t, a.broker.Jobs(jobs.SendMessages))
}

func TestDeletePendingMessage(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	created := decode[ticket.Ticket](t, a.do(http.MethodPost, "/tickets", createBody))
	m := decode[message.Message](t, a.do(http.MethodPost, "/tickets/"+created.ID+"/messages", `{"body":"oops"}`))

	rec := a.do(http.MethodDelete, "/messages/"+m.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[message.DeleteResult](t, rec).Hard)

	rec = a.do(http.MethodDelete, "/messages/"+m.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReleaseUserTickets(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	rec := a.do(http.MethodPost, "/tickets", `{"contactId":"c1","channel":"whatsapp","userId":"u1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[ticket.Ticket](t, rec)

	rec = a.do(http.MethodDelete, "/users/u1/tickets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{created.ID}, decode[ticket.ReleaseResult](t, rec).Released)

	got, err := a.tickets.Get(context.Background(), "t1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusPending, got.Status)
	assert.Empty(t, got.UserID)
}

func TestStartCampaign(t *testing.T) {
	t.Parallel()
	a := newAPI(t)
	require.NoError(t, a.store.SaveCampaign(context.Background(),
		campaign.Campaign{ID: "cmp-1", TenantID: "t1", Status: campaign.StatusDraft}, nil))

	rec := a.do(http.MethodPost, "/campaigns/cmp-1/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, campaign.StatusProcessing, decode[campaign.Campaign](t, rec).Status)

	rec = a.do(http.MethodPost, "/campaigns/cmp-1/cancel", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodPost, "/campaigns/cmp-1/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/campaigns/none/start", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhooks(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/webhooks/api/s1", `{"from":"5511"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"s1"}, a.sink.sessions)
	assert.Equal(t, []string{`{"from":"5511"}`}, a.sink.bodies)

	rec = a.do(http.MethodGet, "/webhooks/meta/s2?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = a.do(http.MethodGet, "/webhooks/meta/s2?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	a.sink.err = apperr.New(apperr.KindInvalidPayload, "channel.webhook", errors.New("bad json"))
	rec = a.do(http.MethodPost, "/webhooks/meta/s2", `{`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHTTPErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		code int
	}{
		{apperr.Newf(apperr.KindNotFound, "op", "gone"), http.StatusNotFound},
		{apperr.Conflict("op", "t-1"), http.StatusConflict},
		{apperr.Newf(apperr.KindInvalidState, "op", "closed"), http.StatusConflict},
		{apperr.Newf(apperr.KindInvalidPayload, "op", "too long"), http.StatusUnprocessableEntity},
		{apperr.Newf(apperr.KindConfiguration, "op", "no session"), http.StatusUnprocessableEntity},
		{apperr.Newf(apperr.KindChannelUnavailable, "op", "down"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		var he *echo.HTTPError
		require.ErrorAs(t, httpError(tc.err), &he)
		assert.Equal(t, tc.code, he.Code, tc.err.Error())
	}
}
