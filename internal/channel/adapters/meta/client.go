// Package meta implements the WhatsApp Cloud, Messenger and Instagram adapters on
// the Meta Graph API.
package meta

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel/adapters/adapterutil"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

const defaultTimeout = 15 * time.Second

// Client is the Graph API transport shared by the three Meta adapters.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *slog.Logger
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func NewClient(log *slog.Logger, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		baseURL: baseURL,
		logger:  logger.OrDefault(log).With(slog.String("adapter", "meta")),
	}
}

// MediaURL is the Graph path of an uploaded media object, used for inbound media ids.
func (c *Client) MediaURL(mediaID string) string {
	if mediaID == "" {
		return ""
	}
	return c.baseURL + "/" + mediaID
}

func (c *Client) do(ctx context.Context, op, method, path, token string, query map[string]string, body, result any) error {
	var failure graphError
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&failure)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn("graph request failed", slog.String("op", op), slog.String("path", path), slog.Any("error", err))
		return adapterutil.ClassifyTransport(op, err)
	}
	if resp.IsError() {
		detail := failure.Error.Message
		if detail == "" {
			detail = resp.String()
		}
		c.logger.Warn("graph request rejected",
			slog.String("op", op),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode()),
			slog.Int("code", failure.Error.Code),
			slog.String("detail", adapterutil.SummarizeText(detail)),
		)
		return adapterutil.ClassifyStatus(op, resp.StatusCode(), detail)
	}
	return nil
}

func accessToken(session channel.Session, op string) (string, error) {
	token := session.Credential("accessToken", "access_token", "token")
	if token == "" {
		return "", apperr.Newf(apperr.KindConfiguration, op, "session %s has no accessToken", session.ID)
	}
	return token, nil
}

func requiredCredential(session channel.Session, op, name string, keys ...string) (string, error) {
	value := session.Credential(keys...)
	if value == "" {
		return "", apperr.Newf(apperr.KindConfiguration, op, "session %s has no %s", session.ID, name)
	}
	return value, nil
}

func parseUnix(raw string) time.Time {
	var sec int64
	if _, err := fmt.Sscan(strings.TrimSpace(raw), &sec); err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
