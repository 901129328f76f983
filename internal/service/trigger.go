package service

import (
	"fmt"
	"time"
)

// TriggerKind tells what a host trigger belongs to.
type TriggerKind string

const (
	TriggerAlarm  TriggerKind = "alarm"
	TriggerSnooze TriggerKind = "snooze"
	TriggerTimer  TriggerKind = "timer"
)

// NoWeekday marks the single trigger of an alarm without repeat days.
const NoWeekday = -1

// TriggerKey identifies one registration with the host scheduler. Registering the
// same key again replaces the earlier registration.
type TriggerKey struct {
	Kind    TriggerKind
	ID      uint
	Weekday int
}

func AlarmTriggerKey(alarmID uint, day time.Weekday) TriggerKey {
	return TriggerKey{Kind: TriggerAlarm, ID: alarmID, Weekday: int(day)}
}

func OneShotTriggerKey(alarmID uint) TriggerKey {
	return TriggerKey{Kind: TriggerAlarm, ID: alarmID, Weekday: NoWeekday}
}

func SnoozeTriggerKey(alarmID uint) TriggerKey {
	return TriggerKey{Kind: TriggerSnooze, ID: alarmID, Weekday: NoWeekday}
}

func TimerTriggerKey(timerID uint) TriggerKey {
	return TriggerKey{Kind: TriggerTimer, ID: timerID, Weekday: NoWeekday}
}

func (k TriggerKey) String() string {
	if k.Weekday == NoWeekday {
		return fmt.Sprintf("%s:%d", k.Kind, k.ID)
	}
	return fmt.Sprintf("%s:%d:%d", k.Kind, k.ID, k.Weekday)
}

// BelongsToAlarm reports whether the key is an alarm or snooze trigger of alarmID.
func (k TriggerKey) BelongsToAlarm(alarmID uint) bool {
	return k.ID == alarmID && (k.Kind == TriggerAlarm || k.Kind == TriggerSnooze)
}

// TriggerHandler receives fired triggers. at is the requested fire time.
type TriggerHandler func(key TriggerKey, at time.Time)

// TriggerScheduler is the host facility for exact, wake-capable one-shot triggers.
type TriggerScheduler interface {
	Register(key TriggerKey, at time.Time) error
	Cancel(key TriggerKey)
	// CancelAlarm drops every trigger of the alarm, snooze included.
	CancelAlarm(alarmID uint)
	// CancelAlarmDays drops the weekday/one-shot triggers of the alarm, keeping a snooze.
	CancelAlarmDays(alarmID uint)
	Pending() map[TriggerKey]time.Time
	CanScheduleExact() bool
}
