package bot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"alarm-clock/internal/export"
	"alarm-clock/internal/service"
	"alarm-clock/pkg/logger"
)

const helpText = "⏰ <b>Будильник</b>\n" +
	"• /alarm ЧЧ:ММ [дни] [подпись] — новый будильник\n" +
	"   дни: mon,wed,fri · daily · weekdays · weekends\n" +
	"   опции: sound=… challenge=math|shake|memory novibrate\n" +
	"• /alarms — список с кнопками\n" +
	"• /edit &lt;id&gt; ЧЧ:ММ [дни] [подпись] — изменить\n" +
	"• /toggle &lt;id&gt; [on|off] — включить или выключить\n" +
	"• /delete &lt;id&gt; — удалить\n" +
	"• /timer 5m — запустить таймер\n" +
	"• /timers — таймеры\n" +
	"• /restore — перерегистрировать будильники\n" +
	"• /export — календарь .ics"

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "help":
		return b.sendText(msg.Chat.ID, helpText)
	case "alarm":
		return b.handleNewAlarm(ctx, msg.Chat.ID, args)
	case "alarms":
		return b.sendAlarmList(ctx, msg.Chat.ID)
	case "edit":
		return b.handleEdit(ctx, msg.Chat.ID, args)
	case "toggle":
		return b.handleToggle(ctx, msg.Chat.ID, args)
	case "delete":
		return b.handleDelete(ctx, msg.Chat.ID, args)
	case "timer":
		return b.handleTimer(ctx, msg.Chat.ID, args)
	case "timers":
		return b.sendTimerList(ctx, msg.Chat.ID)
	case "restore":
		return b.handleRestore(ctx, msg.Chat.ID)
	case "export":
		return b.handleExport(ctx, msg.Chat.ID)
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("👋 Привет, %s!\n\n%s", escape(name), helpText))
}

func (b *Bot) handleNewAlarm(ctx context.Context, chatID int64, args string) error {
	in, err := parseAlarmArgs(args)
	if err != nil {
		return b.sendText(chatID, escape(err.Error()))
	}

	alarm, err := b.svc.Alarms.CreateAlarm(ctx, in)
	if alarm == nil {
		return b.sendText(chatID, userMessage(err))
	}
	text := "✅ <b>Будильник сохранён</b>\n" + formatAlarm(*alarm, b.svc.Alarms.NextFire(*alarm))
	if err != nil {
		b.log.Warn("schedule new alarm", slog.Uint64("alarm", uint64(alarm.ID)), logger.Err(err))
		text += "\n\n" + userMessage(err)
	}
	return b.sendText(chatID, text)
}

func (b *Bot) handleEdit(ctx context.Context, chatID int64, args string) error {
	idRaw, rest, _ := strings.Cut(args, " ")
	id, err := parseID(idRaw)
	if err != nil {
		return b.sendText(chatID, "Укажи ID будильника: /edit 3 07:45 weekdays")
	}
	in, err := parseAlarmArgs(rest)
	if err != nil {
		return b.sendText(chatID, escape(err.Error()))
	}

	current, err := b.svc.Alarms.GetAlarm(ctx, id)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if in.SoundRef == "" {
		in.SoundRef = current.SoundRef
	}
	if in.Challenge == "" {
		in.Challenge = current.ChallengeType
	}
	if in.Label == "" {
		in.Label = current.Label
	}

	alarm, err := b.svc.Alarms.UpdateAlarm(ctx, id, in)
	if alarm == nil {
		return b.sendText(chatID, userMessage(err))
	}
	text := "✏️ <b>Будильник изменён</b>\n" + formatAlarm(*alarm, b.svc.Alarms.NextFire(*alarm))
	if err != nil {
		text += "\n\n" + userMessage(err)
	}
	return b.sendText(chatID, text)
}

func (b *Bot) handleToggle(ctx context.Context, chatID int64, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return b.sendText(chatID, "Укажи ID будильника: /toggle 3 off")
	}
	id, err := parseID(fields[0])
	if err != nil {
		return b.sendText(chatID, "ID будильника должен быть числом.")
	}

	var enabled bool
	if len(fields) > 1 {
		switch strings.ToLower(fields[1]) {
		case "on", "вкл", "1":
			enabled = true
		case "off", "выкл", "0":
			enabled = false
		default:
			return b.sendText(chatID, "Второй аргумент: on или off.")
		}
	} else {
		current, err := b.svc.Alarms.GetAlarm(ctx, id)
		if err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		enabled = !current.Enabled
	}

	alarm, err := b.svc.Alarms.ToggleAlarm(ctx, id, enabled)
	if alarm == nil {
		return b.sendText(chatID, userMessage(err))
	}
	text := formatAlarm(*alarm, b.svc.Alarms.NextFire(*alarm))
	if err != nil {
		text += "\n\n" + userMessage(err)
	}
	return b.sendText(chatID, text)
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, args string) error {
	id, err := parseID(args)
	if err != nil {
		return b.sendText(chatID, "Укажи ID будильника: /delete 3")
	}
	if err := b.svc.Alarms.DeleteAlarm(ctx, id); err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	return b.sendText(chatID, fmt.Sprintf("🗑 Будильник #%d удалён.", id))
}

func (b *Bot) sendAlarmList(ctx context.Context, chatID int64) error {
	alarms, err := b.svc.Alarms.ListAlarms(ctx)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if len(alarms) == 0 {
		return b.sendText(chatID, "Будильников пока нет. Добавь: /alarm 07:30 weekdays")
	}

	lines := make([]string, 0, len(alarms))
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(alarms))
	for _, alarm := range alarms {
		lines = append(lines, formatAlarm(alarm, b.svc.Alarms.NextFire(alarm)))

		toggle := btnToggleOn
		if alarm.Enabled {
			toggle = btnToggleOff
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("#%d %s", alarm.ID, toggle), callbackData(cbTogglePrefix, alarm.ID)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("#%d 🗑", alarm.ID), callbackData(cbDeletePrefix, alarm.ID)),
		))
	}

	_, err = b.sendWithMarkup(chatID, "📋 <b>Будильники</b>\n"+strings.Join(lines, "\n"), tgbotapi.NewInlineKeyboardMarkup(rows...))
	return err
}

func (b *Bot) toggleAndRefresh(ctx context.Context, msg *tgbotapi.Message, id uint) error {
	current, err := b.svc.Alarms.GetAlarm(ctx, id)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	alarm, err := b.svc.Alarms.ToggleAlarm(ctx, id, !current.Enabled)
	if err != nil {
		if alarm == nil {
			return b.sendText(msg.Chat.ID, userMessage(err))
		}
		if sendErr := b.sendText(msg.Chat.ID, userMessage(err)); sendErr != nil {
			return sendErr
		}
	}
	return b.refreshAlarmList(ctx, msg)
}

func (b *Bot) deleteAndRefresh(ctx context.Context, msg *tgbotapi.Message, id uint) error {
	if err := b.svc.Alarms.DeleteAlarm(ctx, id); err != nil && !service.IsNoop(err) {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.refreshAlarmList(ctx, msg)
}

func (b *Bot) refreshAlarmList(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(msg.Chat.ID, msg.MessageID)); err != nil {
		b.log.Warn("delete stale list", logger.Err(err))
	}
	return b.sendAlarmList(ctx, msg.Chat.ID)
}

func (b *Bot) handleTimer(ctx context.Context, chatID int64, args string) error {
	d, err := parseTimerDuration(args)
	if err != nil {
		return b.sendText(chatID, escape(err.Error()))
	}
	timer, err := b.svc.Timers.CreateTimer(ctx, d)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	return b.sendText(chatID, fmt.Sprintf("⏳ Таймер #%d на %s запущен.", timer.ID, formatRemaining(timer.InitialDurationMs)))
}

func (b *Bot) sendTimerList(ctx context.Context, chatID int64) error {
	views, err := b.svc.Timers.ListTimers(ctx)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if len(views) == 0 {
		return b.sendText(chatID, "Таймеров нет. Запусти: /timer 10m")
	}

	lines := make([]string, 0, len(views))
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(views))
	for _, view := range views {
		lines = append(lines, formatTimer(view))

		action := tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("#%d %s", view.ID, btnPause), callbackData(cbTPausePrefix, view.ID))
		if !view.Active() {
			action = tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("#%d %s", view.ID, btnResume), callbackData(cbTResumePrefix, view.ID))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			action,
			tgbotapi.NewInlineKeyboardButtonData(btnAddMinute, callbackData(cbTExtendPrefix, view.ID)),
			tgbotapi.NewInlineKeyboardButtonData(btnReset, callbackData(cbTResetPrefix, view.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑", callbackData(cbTStopPrefix, view.ID)),
		))
	}

	_, err = b.sendWithMarkup(chatID, "⏱ <b>Таймеры</b>\n"+strings.Join(lines, "\n"), tgbotapi.NewInlineKeyboardMarkup(rows...))
	return err
}

func (b *Bot) handleRestore(ctx context.Context, chatID int64) error {
	report, err := b.svc.Restore.Restore(ctx)
	text := fmt.Sprintf("🔄 Восстановление: запланировано %d, ошибок %d, убрано лишних %d.", report.Scheduled, report.Failed, report.Pruned)
	if err != nil {
		text += "\n\n" + userMessage(err)
	}
	return b.sendText(chatID, text)
}

func (b *Bot) handleExport(ctx context.Context, chatID int64) error {
	alarms, err := b.svc.Alarms.ListAlarms(ctx)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, alarms, time.Now().In(b.loc)); err != nil {
		return fmt.Errorf("export alarms: %w", err)
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: "alarms.ics", Bytes: buf.Bytes()})
	doc.Caption = "📅 Будильники в формате iCalendar"
	_, err = b.api.Send(doc)
	return err
}
