package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alarm-clock/internal/model"
	"alarm-clock/internal/service"
)

const (
	btnSnooze      = "😴 Отложить"
	btnStop        = "⏹ Стоп"
	btnDismiss     = "🔕 Выключить"
	btnAddMinute   = "➕ 1 мин"
	btnRestart     = "🔁 Ещё раз"
	btnPause       = "⏸ Пауза"
	btnResume      = "▶️ Продолжить"
	btnReset       = "↩️ Сброс"
	btnDeleteTimer = "🗑 Удалить"
	btnToggleOn    = "🔔 Вкл"
	btnToggleOff   = "🔕 Выкл"
	iconEnabled    = "🟢"
	iconDisabled   = "⚪️"
)

var weekdayRu = map[time.Weekday]string{
	time.Monday:    "пн",
	time.Tuesday:   "вт",
	time.Wednesday: "ср",
	time.Thursday:  "чт",
	time.Friday:    "пт",
	time.Saturday:  "сб",
	time.Sunday:    "вс",
}

func daysLabel(days model.Weekdays) string {
	if days.IsEmpty() {
		return "однократно"
	}
	if days == model.NewWeekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday) {
		return "каждый день"
	}
	parts := make([]string, 0, 7)
	for _, d := range days.Days() {
		parts = append(parts, weekdayRu[d])
	}
	return strings.Join(parts, ", ")
}

func alarmRingingText(alarm model.Alarm, canSnooze bool) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⏰ <b>Будильник %s</b>", alarm.Clock()))
	if alarm.Label != "" {
		b.WriteString(" · " + escape(alarm.Label))
	}
	if alarm.ChallengeType != "" && alarm.ChallengeType != model.ChallengeNone {
		b.WriteString(fmt.Sprintf("\n🧩 Задание: %s", alarm.ChallengeType))
	}
	if !canSnooze {
		b.WriteString("\nОтложить больше нельзя, только остановить.")
	}
	return b.String()
}

func formatAlarm(alarm model.Alarm, next time.Time) string {
	icon := iconDisabled
	if alarm.Enabled {
		icon = iconEnabled
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s · %s", icon, alarm.ID, alarm.Clock(), daysLabel(alarm.SelectedDays)))
	if alarm.Label != "" {
		b.WriteString(" · " + escape(alarm.Label))
	}
	if alarm.Enabled && !next.IsZero() {
		b.WriteString(fmt.Sprintf("\n   следующий: %s", next.Format("02.01 15:04")))
	}
	return b.String()
}

func formatTimer(view service.TimerView) string {
	var state string
	switch {
	case view.Expired:
		state = "⏰ истёк"
	case view.Active():
		state = "⏳ идёт"
	case view.IsPaused:
		state = "⏸ пауза"
	default:
		state = "⏹ остановлен"
	}
	return fmt.Sprintf("<b>#%d</b> %s из %s · %s", view.ID, formatRemaining(view.LiveRemainingMs), formatRemaining(view.CurrentInitialDurationMs), state)
}

func countdownTitle(view service.CountdownView) string {
	switch {
	case view.Running > 1 && view.Paused:
		return fmt.Sprintf("⏸ Таймеры на паузе: %d", view.Running)
	case view.Running > 1:
		return fmt.Sprintf("⏳ Запущено таймеров: %d", view.Running)
	case view.Paused:
		return "⏸ Таймер на паузе"
	default:
		return "⏳ Таймер идёт"
	}
}

func countdownText(view service.CountdownView) string {
	return fmt.Sprintf("<b>%s</b>\nБлижайший #%d: <code>%s</code>", countdownTitle(view), view.TimerID, formatRemaining(view.RemainingMs))
}

// formatRemaining renders milliseconds as M:SS or H:MM:SS, rounding up to the second.
func formatRemaining(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := (ms + 999) / 1000
	h, m, s := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func parseClock(raw string) (int, int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, 0, fmt.Errorf("время %q: нужен формат ЧЧ:ММ", raw)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("время %q: час от 0 до 23", raw)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("время %q: минуты от 00 до 59", raw)
	}
	return hour, minute, nil
}

// parseAlarmArgs reads "HH:MM [days] [sound=ref] [challenge=type] [novibrate] [label...]".
func parseAlarmArgs(args string) (service.AlarmInput, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return service.AlarmInput{}, errors.New("укажи время: /alarm 07:30 mon,wed подъём")
	}

	hour, minute, err := parseClock(fields[0])
	if err != nil {
		return service.AlarmInput{}, err
	}
	in := service.AlarmInput{Hour: hour, Minute: minute, Vibrate: true}

	rest := fields[1:]
	if len(rest) > 0 {
		if days, err := model.ParseWeekdays(rest[0]); err == nil {
			in.Days = days
			rest = rest[1:]
		}
	}

	label := make([]string, 0, len(rest))
	for _, f := range rest {
		switch {
		case strings.HasPrefix(f, "sound="):
			in.SoundRef = strings.TrimPrefix(f, "sound=")
		case strings.HasPrefix(f, "challenge="):
			in.Challenge = model.ChallengeType(strings.ToLower(strings.TrimPrefix(f, "challenge=")))
		case strings.EqualFold(f, "novibrate"):
			in.Vibrate = false
		default:
			label = append(label, f)
		}
	}
	in.Label = strings.Join(label, " ")
	return in, nil
}

// parseTimerDuration accepts Go durations ("90s", "1h30m") or plain minutes ("5").
func parseTimerDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("укажи длительность: /timer 5m")
	}
	if minutes, err := strconv.Atoi(raw); err == nil {
		if minutes <= 0 {
			return 0, errors.New("длительность должна быть больше нуля")
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("не понимаю длительность %q", raw)
	}
	if d <= 0 {
		return 0, errors.New("длительность должна быть больше нуля")
	}
	return d, nil
}

// userMessage turns an engine error into text for the chat.
func userMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		return "⚠️ Нет разрешения на точные будильники. Будильник сохранён, но не запланирован. Разреши EXACT_ALARMS_ALLOWED и выполни /restore."
	case errors.Is(err, service.ErrTriggerRegistration):
		return "⚠️ Не удалось запланировать срабатывание. Будильник включён, повторим при следующем /restore."
	case errors.Is(err, service.ErrSnoozeLimit):
		return "Отложить больше нельзя, только остановить."
	case errors.Is(err, service.ErrInvalidInput):
		return "Неверные данные: " + escape(err.Error())
	case errors.Is(err, service.ErrInvalidState):
		return "Не найдено."
	case errors.Is(err, service.ErrPersistence):
		return "💾 Ошибка хранилища, попробуй ещё раз."
	default:
		return "Ошибка: " + escape(err.Error())
	}
}
