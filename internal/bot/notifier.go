package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"alarm-clock/internal/model"
	"alarm-clock/internal/service"
)

var _ service.Notifier = (*Bot)(nil)

func (b *Bot) ShowAlarm(_ context.Context, alarm model.Alarm, canSnooze bool) (service.NotificationHandle, error) {
	chatID := b.owner()
	if chatID == 0 {
		return "", errNoChat
	}
	sent, err := b.sendWithMarkup(chatID, alarmRingingText(alarm, canSnooze), alarmKeyboard(alarm.ID, canSnooze))
	if err != nil {
		return "", fmt.Errorf("send alarm: %w", err)
	}
	return handle(chatID, sent.MessageID), nil
}

func (b *Bot) ShowTimerExpired(_ context.Context, timer model.Timer) (service.NotificationHandle, error) {
	chatID := b.owner()
	if chatID == 0 {
		return "", errNoChat
	}
	text := fmt.Sprintf("⏰ <b>Таймер #%d истёк</b>\nБыло: %s", timer.ID, formatRemaining(timer.CurrentInitialDurationMs))
	sent, err := b.sendWithMarkup(chatID, text, expiredKeyboard(timer.ID))
	if err != nil {
		return "", fmt.Errorf("send timer expired: %w", err)
	}
	return handle(chatID, sent.MessageID), nil
}

func (b *Bot) Dismiss(_ context.Context, h service.NotificationHandle) error {
	chatID, msgID, err := parseHandle(h)
	if err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ShowCountdown keeps one countdown message in the owner chat, editing it only when
// the rendered text or buttons change.
func (b *Bot) ShowCountdown(_ context.Context, view service.CountdownView) error {
	chatID := b.owner()
	if chatID == 0 {
		return errNoChat
	}

	text := countdownText(view)
	kb := countdownKeyboard(view)
	kbKey := fmt.Sprintf("%d:%t", view.TimerID, view.Paused)

	b.mu.Lock()
	current := b.countdown
	b.mu.Unlock()

	if current.id != 0 && current.text == text && current.kb == kbKey {
		return nil
	}

	if current.id != 0 {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, current.id, text, kb)
		edit.ParseMode = tgbotapi.ModeHTML
		if _, err := b.api.Send(edit); err == nil {
			b.setCountdown(countdownMessage{id: current.id, text: text, kb: kbKey})
			return nil
		}
		// the message may have been deleted by the user; send a fresh one
	}

	sent, err := b.sendWithMarkup(chatID, text, kb)
	if err != nil {
		return fmt.Errorf("send countdown: %w", err)
	}
	b.setCountdown(countdownMessage{id: sent.MessageID, text: text, kb: kbKey})
	return nil
}

func (b *Bot) ClearCountdown(_ context.Context) error {
	b.mu.Lock()
	current := b.countdown
	b.countdown = countdownMessage{}
	chatID := b.chatID
	b.mu.Unlock()

	if current.id == 0 || chatID == 0 {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, current.id)); err != nil {
		return fmt.Errorf("delete countdown: %w", err)
	}
	return nil
}

func (b *Bot) setCountdown(msg countdownMessage) {
	b.mu.Lock()
	b.countdown = msg
	b.mu.Unlock()
}

func handle(chatID int64, msgID int) service.NotificationHandle {
	return service.NotificationHandle(fmt.Sprintf("%d:%d", chatID, msgID))
}

func parseHandle(h service.NotificationHandle) (int64, int, error) {
	chat, msg, ok := strings.Cut(string(h), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid notification handle %q", h)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid notification handle %q", h)
	}
	msgID, err := strconv.Atoi(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid notification handle %q", h)
	}
	return chatID, msgID, nil
}

func alarmKeyboard(id uint, canSnooze bool) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, 2)
	if canSnooze {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(btnSnooze, callbackData(cbSnoozePrefix, id)))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(btnStop, callbackData(cbStopPrefix, id)))
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func expiredKeyboard(id uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnDismiss, callbackData(cbTDismissPrefix, id)),
			tgbotapi.NewInlineKeyboardButtonData(btnAddMinute, callbackData(cbTExtendPrefix, id)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnRestart, callbackData(cbTResumePrefix, id)),
			tgbotapi.NewInlineKeyboardButtonData(btnDeleteTimer, callbackData(cbTStopPrefix, id)),
		),
	)
}

func countdownKeyboard(view service.CountdownView) tgbotapi.InlineKeyboardMarkup {
	id := view.TimerID
	toggle := tgbotapi.NewInlineKeyboardButtonData(btnPause, callbackData(cbTPausePrefix, id))
	if view.Paused {
		toggle = tgbotapi.NewInlineKeyboardButtonData(btnResume, callbackData(cbTResumePrefix, id))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			toggle,
			tgbotapi.NewInlineKeyboardButtonData(btnAddMinute, callbackData(cbTExtendPrefix, id)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnReset, callbackData(cbTResetPrefix, id)),
			tgbotapi.NewInlineKeyboardButtonData(btnDeleteTimer, callbackData(cbTStopPrefix, id)),
		),
	)
}
