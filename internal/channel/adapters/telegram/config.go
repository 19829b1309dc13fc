package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
)

// Config holds the Telegram bot credentials of a session.
type Config struct {
	BotToken string
}

func parseConfig(session channel.Session) (Config, error) {
	token := session.Credential("botToken", "bot_token", "token")
	if token == "" {
		return Config{}, apperr.Newf(apperr.KindConfiguration, "telegram.config", "session %s has no botToken", session.ID)
	}
	return Config{BotToken: token}, nil
}

// chatTarget is either a numeric chat id or a public @channel username.
type chatTarget struct {
	ChatID   int64
	Username string
}

func parseTarget(raw string) (chatTarget, error) {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "tg:")
	value = strings.TrimPrefix(value, "telegram:")
	value = strings.TrimPrefix(value, "https://t.me/")
	value = strings.TrimPrefix(value, "t.me/")
	value = strings.TrimSpace(value)
	if value == "" {
		return chatTarget{}, apperr.Newf(apperr.KindInvalidPayload, "telegram.target", "telegram target is required")
	}
	if strings.HasPrefix(value, "@") {
		return chatTarget{Username: value}, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return chatTarget{}, apperr.New(apperr.KindInvalidPayload, "telegram.target", fmt.Errorf("telegram target must be @username or chat_id: %q", raw))
	}
	return chatTarget{ChatID: id}, nil
}

func parseMessageID(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return value
}
