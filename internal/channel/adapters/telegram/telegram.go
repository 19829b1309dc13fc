package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel/adapters/adapterutil"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

type TelegramAdapter struct {
	logger   *slog.Logger
	endpoint string

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

// NewTelegramAdapter builds the adapter. endpoint is the Bot API url template
// ("https://api.telegram.org/bot%s/%s"); empty selects the public API.
func NewTelegramAdapter(log *slog.Logger, endpoint string) *TelegramAdapter {
	log = logger.OrDefault(log).With(slog.String("adapter", "telegram"))
	if strings.TrimSpace(endpoint) == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: log})
	return &TelegramAdapter{
		logger:   log,
		endpoint: endpoint,
		bots:     map[string]*tgbotapi.BotAPI{},
	}
}

func (a *TelegramAdapter) Type() channel.Type {
	return Type
}

func (a *TelegramAdapter) Descriptor() channel.Descriptor {
	return descriptor()
}

func (a *TelegramAdapter) newBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, a.endpoint)
	if err != nil {
		return nil, classifyError("telegram.bot", err)
	}
	return bot, nil
}

// sender returns a cached bot for outbound calls; the receiver owns its own instance
// because stopping a long poll cannot be undone on the same BotAPI.
func (a *TelegramAdapter) sender(session channel.Session) (*tgbotapi.BotAPI, error) {
	cfg, err := parseConfig(session)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	bot, ok := a.bots[cfg.BotToken]
	a.mu.Unlock()
	if ok {
		return bot, nil
	}
	bot, err = a.newBot(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.bots[cfg.BotToken] = bot
	a.mu.Unlock()
	return bot, nil
}

func (a *TelegramAdapter) Connect(ctx context.Context, session channel.Session, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("session_id", session.ID))
	cfg, err := parseConfig(session)
	if err != nil {
		return nil, err
	}
	bot, err := a.newBot(cfg.BotToken)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("session_id", session.ID), slog.Any("error", err))
		return nil, err
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	var conn *channel.BaseConnection
	var once sync.Once
	stop := func(context.Context) error {
		once.Do(func() {
			cancel()
			bot.StopReceivingUpdates()
		})
		return nil
	}
	conn = channel.NewConnection(session, stop)

	go func() {
		defer conn.MarkStopped()
		for {
			select {
			case <-connCtx.Done():
				a.logger.Info("stop", slog.String("session_id", session.ID))
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("session_id", session.ID))
					return
				}
				ev, ok := toInboundEvent(update.Message, a.fileURL(bot))
				if !ok {
					continue
				}
				a.logger.Debug("inbound received",
					slog.String("session_id", session.ID),
					slog.String("chat_id", ev.ChatID),
					slog.String("sender_id", ev.SenderID),
					slog.String("text", adapterutil.SummarizeText(ev.Text)),
				)
				if err := handler(connCtx, session, ev); err != nil {
					a.logger.Error("handle inbound failed", slog.String("session_id", session.ID), slog.Any("error", err))
				}
			}
		}
	}()
	return conn, nil
}

func (a *TelegramAdapter) fileURL(bot *tgbotapi.BotAPI) func(string) string {
	return func(fileID string) string {
		if strings.TrimSpace(fileID) == "" {
			return ""
		}
		url, err := bot.GetFileDirectURL(fileID)
		if err != nil {
			a.logger.Warn("resolve file url failed", slog.Any("error", err))
			return ""
		}
		return url
	}
}

func (a *TelegramAdapter) SendText(_ context.Context, session channel.Session, dest, text string, opts channel.SendOptions) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, "telegram.send_text", "message text is required")
	}
	target, err := parseTarget(dest)
	if err != nil {
		return "", err
	}
	bot, err := a.sender(session)
	if err != nil {
		return "", err
	}
	var msg tgbotapi.MessageConfig
	if target.Username != "" {
		msg = tgbotapi.NewMessageToChannel(target.Username, text)
	} else {
		msg = tgbotapi.NewMessage(target.ChatID, text)
	}
	msg.ReplyToMessageID = parseMessageID(opts.QuotedNativeID)
	sent, err := bot.Send(msg)
	if err != nil {
		return "", classifyError("telegram.send_text", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (a *TelegramAdapter) SendMedia(_ context.Context, session channel.Session, dest string, media channel.Media, caption string, opts channel.SendOptions) (string, error) {
	if strings.TrimSpace(media.URL) == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, "telegram.send_media", "media url is required")
	}
	target, err := parseTarget(dest)
	if err != nil {
		return "", err
	}
	bot, err := a.sender(session)
	if err != nil {
		return "", err
	}
	cfg := mediaConfig(target, media, strings.TrimSpace(caption), parseMessageID(opts.QuotedNativeID))
	sent, err := bot.Send(cfg)
	if err != nil {
		return "", classifyError("telegram.send_media", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (a *TelegramAdapter) Unsend(_ context.Context, session channel.Session, dest, nativeID string) error {
	target, err := parseTarget(dest)
	if err != nil {
		return err
	}
	messageID := parseMessageID(nativeID)
	if messageID == 0 {
		return apperr.Newf(apperr.KindInvalidPayload, "telegram.unsend", "invalid message id %q", nativeID)
	}
	bot, err := a.sender(session)
	if err != nil {
		return err
	}
	del := tgbotapi.NewDeleteMessage(target.ChatID, messageID)
	del.ChannelUsername = target.Username
	if _, err := bot.Request(del); err != nil {
		return classifyError("telegram.unsend", err)
	}
	return nil
}

func mediaConfig(target chatTarget, media channel.Media, caption string, replyTo int) tgbotapi.Chattable {
	file := tgbotapi.FileURL(media.URL)
	switch media.Kind() {
	case "image":
		cfg := tgbotapi.NewPhoto(target.ChatID, file)
		cfg.ChannelUsername = target.Username
		cfg.Caption = caption
		cfg.ReplyToMessageID = replyTo
		return cfg
	case "audio":
		cfg := tgbotapi.NewAudio(target.ChatID, file)
		cfg.ChannelUsername = target.Username
		cfg.Caption = caption
		cfg.ReplyToMessageID = replyTo
		return cfg
	case "video":
		cfg := tgbotapi.NewVideo(target.ChatID, file)
		cfg.ChannelUsername = target.Username
		cfg.Caption = caption
		cfg.ReplyToMessageID = replyTo
		return cfg
	default:
		cfg := tgbotapi.NewDocument(target.ChatID, file)
		cfg.ChannelUsername = target.Username
		cfg.Caption = caption
		cfg.ReplyToMessageID = replyTo
		return cfg
	}
}

func classifyError(op string, err error) error {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return adapterutil.ClassifyStatus(op, ptr.Code, ptr.Message)
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return adapterutil.ClassifyStatus(op, val.Code, val.Message)
	}
	return adapterutil.ClassifyTransport(op, err)
}

func toInboundEvent(msg *tgbotapi.Message, resolve func(string) string) (channel.InboundEvent, bool) {
	if msg == nil {
		return channel.InboundEvent{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	media := collectMedia(msg, resolve)
	if text == "" && media == nil {
		return channel.InboundEvent{}, false
	}
	senderID, senderName := resolveSender(msg)
	ev := channel.InboundEvent{
		Kind:            channel.EventMessage,
		SenderID:        senderID,
		SenderName:      senderName,
		Text:            text,
		Media:           media,
		Timestamp:       time.Unix(int64(msg.Date), 0).UTC(),
		NativeMessageID: strconv.Itoa(msg.MessageID),
	}
	if msg.Chat != nil {
		ev.ChatID = strconv.FormatInt(msg.Chat.ID, 10)
		ev.IsGroup = msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	}
	if msg.ReplyToMessage != nil {
		ev.QuotedNativeID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	return ev, true
}

func resolveSender(msg *tgbotapi.Message) (string, string) {
	if msg == nil {
		return "", ""
	}
	if msg.From != nil {
		id := strconv.FormatInt(msg.From.ID, 10)
		name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if name == "" {
			name = strings.TrimSpace(msg.From.UserName)
		}
		return id, name
	}
	if msg.SenderChat != nil {
		name := strings.TrimSpace(msg.SenderChat.Title)
		if name == "" {
			name = strings.TrimSpace(msg.SenderChat.UserName)
		}
		return strconv.FormatInt(msg.SenderChat.ID, 10), name
	}
	return "", ""
}

// collectMedia keeps the first attachment; the helpdesk message model holds one media reference.
func collectMedia(msg *tgbotapi.Message, resolve func(string) string) *channel.Media {
	switch {
	case len(msg.Photo) > 0:
		photo := pickPhoto(msg.Photo)
		return &channel.Media{URL: resolve(photo.FileID), MimeType: "image/jpeg"}
	case msg.Document != nil:
		return &channel.Media{URL: resolve(msg.Document.FileID), MimeType: msg.Document.MimeType, Filename: msg.Document.FileName}
	case msg.Audio != nil:
		return &channel.Media{URL: resolve(msg.Audio.FileID), MimeType: msg.Audio.MimeType, Filename: msg.Audio.FileName}
	case msg.Voice != nil:
		return &channel.Media{URL: resolve(msg.Voice.FileID), MimeType: msg.Voice.MimeType}
	case msg.Video != nil:
		return &channel.Media{URL: resolve(msg.Video.FileID), MimeType: msg.Video.MimeType, Filename: msg.Video.FileName}
	case msg.Sticker != nil:
		return &channel.Media{URL: resolve(msg.Sticker.FileID), MimeType: "image/webp"}
	}
	return nil
}

func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}
