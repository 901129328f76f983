package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
	"gorm.io/gorm"

	"alarm-clock/internal/model"
	"alarm-clock/pkg/logger"
)

// AlarmScheduler turns alarms into host triggers: one per selected weekday, or a single
// one-shot trigger when no days are selected.
type AlarmScheduler struct {
	host TriggerScheduler
	loc  *time.Location
	now  func() time.Time
	log  *logger.Logger

	syncMu sync.Mutex
}

func NewAlarmScheduler(host TriggerScheduler, loc *time.Location, log *logger.Logger) *AlarmScheduler {
	if loc == nil {
		loc = time.Local
	}
	return &AlarmScheduler{host: host, loc: loc, now: time.Now, log: log.Component("alarm-scheduler")}
}

// Schedule replaces the day triggers of the alarm with freshly computed ones. A pending
// snooze is left alone.
func (s *AlarmScheduler) Schedule(alarm model.Alarm) error {
	if !s.host.CanScheduleExact() {
		return newError(ErrPermissionDenied, "schedule alarm", alarm.ID, nil)
	}

	s.host.CancelAlarmDays(alarm.ID)

	now := s.now()
	if !alarm.Repeating() {
		return s.register(alarm.ID, OneShotTriggerKey(alarm.ID), NextOccurrence(alarm.Hour, alarm.Minute, now.In(s.loc)))
	}

	var errs []error
	for _, day := range alarm.SelectedDays.Days() {
		at := NextWeekdayOccurrence(alarm.Hour, alarm.Minute, day, now.In(s.loc))
		if err := s.register(alarm.ID, AlarmTriggerKey(alarm.ID, day), at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScheduleDay re-registers a single weekday trigger, used after that day has fired.
func (s *AlarmScheduler) ScheduleDay(alarm model.Alarm, day time.Weekday) error {
	if !s.host.CanScheduleExact() {
		return newError(ErrPermissionDenied, "schedule alarm day", alarm.ID, nil)
	}
	if !alarm.SelectedDays.Has(day) {
		s.host.Cancel(AlarmTriggerKey(alarm.ID, day))
		return nil
	}
	at := NextWeekdayOccurrence(alarm.Hour, alarm.Minute, day, s.now().In(s.loc))
	return s.register(alarm.ID, AlarmTriggerKey(alarm.ID, day), at)
}

// Cancel removes every trigger of the alarm regardless of weekday, snooze included.
func (s *AlarmScheduler) Cancel(alarmID uint) {
	s.host.CancelAlarm(alarmID)
}

// Snooze registers the snooze trigger of the alarm.
func (s *AlarmScheduler) Snooze(alarmID uint, at time.Time) error {
	if !s.host.CanScheduleExact() {
		return newError(ErrPermissionDenied, "snooze alarm", alarmID, nil)
	}
	return s.register(alarmID, SnoozeTriggerKey(alarmID), at)
}

func (s *AlarmScheduler) CancelSnooze(alarmID uint) {
	s.host.Cancel(SnoozeTriggerKey(alarmID))
}

// NextFire is the earliest instant the alarm would ring at, from now.
func (s *AlarmScheduler) NextFire(alarm model.Alarm) time.Time {
	return NextFire(alarm, s.now().In(s.loc))
}

// NextFire is the earliest instant after now at which the alarm would ring, ignoring
// whether it is enabled.
func NextFire(alarm model.Alarm, now time.Time) time.Time {
	if !alarm.Repeating() {
		return NextOccurrence(alarm.Hour, alarm.Minute, now)
	}
	var next time.Time
	for _, day := range alarm.SelectedDays.Days() {
		at := NextWeekdayOccurrence(alarm.Hour, alarm.Minute, day, now)
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next
}

// Sync makes the triggers of one alarm match its stored row: scheduled while enabled,
// cancelled once disabled or deleted. Syncs are serialized and read the row under the
// lock, so concurrent edits end with the triggers of the last write.
func (s *AlarmScheduler) Sync(ctx context.Context, alarms AlarmStore, alarmID uint) (*model.Alarm, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	alarm, err := alarms.FindByID(ctx, alarmID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.host.CancelAlarm(alarmID)
		return nil, nil
	case err != nil:
		return nil, storeError("sync alarm", alarmID, err)
	case !alarm.Enabled:
		s.host.CancelAlarm(alarmID)
		return alarm, nil
	}
	return alarm, s.Schedule(*alarm)
}

// SyncDay re-registers one weekday trigger after it fired, reading the row like Sync.
func (s *AlarmScheduler) SyncDay(ctx context.Context, alarms AlarmStore, alarmID uint, day time.Weekday) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	alarm, err := alarms.FindByID(ctx, alarmID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.host.Cancel(AlarmTriggerKey(alarmID, day))
		return nil
	case err != nil:
		return storeError("sync alarm day", alarmID, err)
	case !alarm.Enabled:
		s.host.Cancel(AlarmTriggerKey(alarmID, day))
		return nil
	}
	return s.ScheduleDay(*alarm, day)
}

func (s *AlarmScheduler) register(alarmID uint, key TriggerKey, at time.Time) error {
	if err := s.host.Register(key, at); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return newError(ErrPermissionDenied, "register trigger", alarmID, err)
		}
		s.log.Warn("register trigger", "key", key.String(), logger.Err(err))
		return newError(ErrTriggerRegistration, "register trigger", alarmID, err)
	}
	s.log.Debug("trigger registered", "key", key.String(), "at", at.Format(time.RFC3339))
	return nil
}

// NextOccurrence is today at hour:minute in now's location, or tomorrow when that
// instant is not after now.
func NextOccurrence(hour, minute int, now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// NextWeekdayOccurrence is the first day on or after today matching day at hour:minute
// that is strictly after now. A passed time on a matching today moves to next week.
func NextWeekdayOccurrence(hour, minute int, day time.Weekday, now time.Time) time.Time {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   start,
		Byweekday: []rrule.Weekday{rruleWeekdays[day]},
		Byhour:    []int{hour},
		Byminute:  []int{minute},
		Bysecond:  []int{0},
	})
	if err == nil {
		if next := r.After(now, false); !next.IsZero() {
			return next
		}
	}
	return nextWeekdayFallback(hour, minute, day, now)
}

func nextWeekdayFallback(hour, minute int, day time.Weekday, now time.Time) time.Time {
	offset := (int(day) - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day()+offset, hour, minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
