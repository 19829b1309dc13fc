package telegram

import (
	"fmt"
	"log/slog"
)

// slogBotLogger routes tgbotapi library output through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (s *slogBotLogger) Println(v ...any) {
	s.log.Warn(fmt.Sprint(v...))
}

func (s *slogBotLogger) Printf(format string, v ...any) {
	s.log.Debug(fmt.Sprintf(format, v...))
}
