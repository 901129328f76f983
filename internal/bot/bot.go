package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"alarm-clock/internal/service"
	"alarm-clock/pkg/logger"
)

const (
	cbSnoozePrefix   = "snooze:"
	cbStopPrefix     = "stop:"
	cbTogglePrefix   = "toggle:"
	cbDeletePrefix   = "adel:"
	cbTPausePrefix   = "tpause:"
	cbTResumePrefix  = "tresume:"
	cbTExtendPrefix  = "textend:"
	cbTResetPrefix   = "treset:"
	cbTStopPrefix    = "tstop:"
	cbTDismissPrefix = "tdismiss:"
)

var errNoChat = errors.New("no owner chat bound, send /start first")

// Services are the engine entry points the bot drives.
type Services struct {
	Alarms  *service.AlarmService
	Timers  *service.TimerService
	Restore *service.RestoreService
	Bus     *service.Bus
}

type countdownMessage struct {
	id   int
	text string
	kb   string
}

// Bot is the Telegram front-end: it shows alarm and timer notifications in the owner
// chat and turns commands and button presses into engine calls.
type Bot struct {
	api *tgbotapi.BotAPI
	svc Services
	loc *time.Location
	log *logger.Logger

	mu        sync.Mutex
	chatID    int64
	countdown countdownMessage
}

func New(token string, chatID int64, loc *time.Location, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log = log.Component("bot")
	log.Info("bot authorized", slog.String("account", api.Self.UserName))

	return &Bot{api: api, loc: loc, log: log, chatID: chatID}, nil
}

// Bind attaches the engine. The bot is a Notifier for the same engine, so it is
// created first and bound afterwards.
func (b *Bot) Bind(svc Services) {
	b.svc = svc
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Error("handle callback", logger.Err(err))
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Error("handle message", logger.Err(err))
			}
		}
	}

	return nil
}

func (b *Bot) owner() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chatID
}

// claim binds the owner chat on first /start. It reports whether chatID is the owner.
func (b *Bot) claim(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chatID == 0 {
		b.chatID = chatID
		b.log.Info("owner chat bound", slog.Int64("chat", chatID))
	}
	return b.chatID == chatID
}

func (b *Bot) isOwner(chatID int64) bool {
	owner := b.owner()
	return owner != 0 && owner == chatID
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	if !msg.IsCommand() {
		return b.sendText(msg.Chat.ID, "Я понимаю только команды. Загляни в /help.")
	}

	b.log.Info("command", slog.Int64("user", msg.From.ID), slog.String("command", msg.Command()), slog.String("args", msg.CommandArguments()))

	if msg.Command() == "start" {
		if !b.claim(msg.Chat.ID) {
			return b.sendText(msg.Chat.ID, "🔒 Этот будильник уже привязан к другому чату.")
		}
		return b.handleStart(msg)
	}
	if !b.isOwner(msg.Chat.ID) {
		return b.sendText(msg.Chat.ID, "🔒 Сначала отправь /start.")
	}
	return b.handleCommand(ctx, msg)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("callback ack", logger.Err(err))
	}
	if cb.Message == nil || !b.isOwner(cb.Message.Chat.ID) {
		return nil
	}

	data := cb.Data
	b.log.Info("callback", slog.Int64("user", cb.From.ID), slog.String("data", data))

	prefix, id, err := parseCallback(data)
	if err != nil {
		return nil
	}

	var ev service.Event
	switch prefix {
	case cbSnoozePrefix:
		ev = service.SnoozeRequested{AlarmID: id}
	case cbStopPrefix:
		ev = service.StopRequested{AlarmID: id}
	case cbTExtendPrefix:
		ev = service.ExtendRequested{TimerID: id}
	case cbTPausePrefix:
		ev = service.TimerActionRequested{TimerID: id, Action: service.TimerPause}
	case cbTResumePrefix:
		ev = service.TimerActionRequested{TimerID: id, Action: service.TimerResume}
	case cbTResetPrefix:
		ev = service.TimerActionRequested{TimerID: id, Action: service.TimerReset}
	case cbTStopPrefix:
		ev = service.TimerActionRequested{TimerID: id, Action: service.TimerStop}
	case cbTDismissPrefix:
		ev = service.TimerActionRequested{TimerID: id, Action: service.TimerDismiss}
	case cbTogglePrefix:
		return b.toggleAndRefresh(ctx, cb.Message, id)
	case cbDeletePrefix:
		return b.deleteAndRefresh(ctx, cb.Message, id)
	default:
		return nil
	}
	return b.svc.Bus.Publish(ctx, ev)
}

var callbackPrefixes = []string{
	cbSnoozePrefix, cbStopPrefix, cbTogglePrefix, cbDeletePrefix,
	cbTPausePrefix, cbTResumePrefix, cbTExtendPrefix, cbTResetPrefix, cbTStopPrefix, cbTDismissPrefix,
}

func parseCallback(data string) (string, uint, error) {
	for _, prefix := range callbackPrefixes {
		if !strings.HasPrefix(data, prefix) {
			continue
		}
		id, err := parseID(strings.TrimPrefix(data, prefix))
		if err != nil {
			return "", 0, err
		}
		return prefix, id, nil
	}
	return "", 0, fmt.Errorf("unknown callback %q", data)
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func callbackData(prefix string, id uint) string {
	return prefix + strconv.FormatUint(uint64(id), 10)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithMarkup(chatID int64, text string, markup interface{}) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	return b.api.Send(msg)
}

func escape(s string) string {
	return html.EscapeString(s)
}
