package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-clock/internal/model"
	"alarm-clock/pkg/logger"
)

// Wednesday, 15 May 2024, 08:30 UTC.
var wednesday = time.Date(2024, time.May, 15, 8, 30, 0, 0, time.UTC)

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name         string
		hour, minute int
		now          time.Time
		want         time.Time
	}{
		{"later today", 9, 0, wednesday, time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)},
		{"already passed", 7, 0, wednesday, time.Date(2024, 5, 16, 7, 0, 0, 0, time.UTC)},
		{"exactly now", 8, 30, wednesday, time.Date(2024, 5, 16, 8, 30, 0, 0, time.UTC)},
		{"month end", 6, 0, time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextOccurrence(tt.hour, tt.minute, tt.now))
		})
	}
}

func TestNextWeekdayOccurrence(t *testing.T) {
	tests := []struct {
		name         string
		hour, minute int
		day          time.Weekday
		want         time.Time
	}{
		{"today later", 21, 15, time.Wednesday, time.Date(2024, 5, 15, 21, 15, 0, 0, time.UTC)},
		{"today passed", 7, 0, time.Wednesday, time.Date(2024, 5, 22, 7, 0, 0, 0, time.UTC)},
		{"today exactly now", 8, 30, time.Wednesday, time.Date(2024, 5, 22, 8, 30, 0, 0, time.UTC)},
		{"tomorrow", 7, 0, time.Thursday, time.Date(2024, 5, 16, 7, 0, 0, 0, time.UTC)},
		{"earlier in week", 7, 0, time.Monday, time.Date(2024, 5, 20, 7, 0, 0, 0, time.UTC)},
		{"sunday", 10, 0, time.Sunday, time.Date(2024, 5, 19, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextWeekdayOccurrence(tt.hour, tt.minute, tt.day, wednesday)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, nextWeekdayFallback(tt.hour, tt.minute, tt.day, wednesday))
		})
	}
}

func TestNextFire(t *testing.T) {
	tests := []struct {
		name  string
		alarm model.Alarm
		want  time.Time
	}{
		{"one-shot later today", model.Alarm{Hour: 9}, time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)},
		{"one-shot tomorrow", model.Alarm{Hour: 7}, time.Date(2024, 5, 16, 7, 0, 0, 0, time.UTC)},
		{"earliest day wins", model.Alarm{Hour: 8, SelectedDays: model.NewWeekdays(time.Monday, time.Friday)}, time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC)},
		{"today already passed", model.Alarm{Hour: 8, Minute: 30, SelectedDays: model.NewWeekdays(time.Wednesday)}, time.Date(2024, 5, 22, 8, 30, 0, 0, time.UTC)},
		{"tomorrow beats next week", model.Alarm{Hour: 8, Minute: 30, SelectedDays: model.NewWeekdays(time.Wednesday, time.Thursday)}, time.Date(2024, 5, 16, 8, 30, 0, 0, time.UTC)},
	}
	s := NewAlarmScheduler(newManualHost(), time.UTC, logger.Discard())
	s.now = func() time.Time { return wednesday }
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextFire(tt.alarm, wednesday))
			assert.Equal(t, tt.want, s.NextFire(tt.alarm))
		})
	}
}

func TestNextWeekdayOccurrenceKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// Saturday before the switch to summer time on 31 March 2024.
	now := time.Date(2024, time.March, 30, 12, 0, 0, 0, loc)
	got := NextWeekdayOccurrence(7, 0, time.Monday, now)
	assert.Equal(t, time.Date(2024, time.April, 1, 7, 0, 0, 0, loc), got)
	assert.Equal(t, 7, got.Hour())
}

func newTestScheduler(host TriggerScheduler, now time.Time) *AlarmScheduler {
	s := NewAlarmScheduler(host, time.UTC, logger.Discard())
	s.now = func() time.Time { return now }
	return s
}

func TestAlarmSchedulerScheduleOneShot(t *testing.T) {
	host := newManualHost()
	s := newTestScheduler(host, wednesday)

	require.NoError(t, s.Schedule(model.Alarm{ID: 1, Hour: 7, Minute: 0, Enabled: true}))

	pending := host.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Date(2024, 5, 16, 7, 0, 0, 0, time.UTC), pending[OneShotTriggerKey(1)])
}

func TestAlarmSchedulerSchedulePerWeekday(t *testing.T) {
	host := newManualHost()
	s := newTestScheduler(host, wednesday)

	alarm := model.Alarm{ID: 3, Hour: 7, Minute: 0, Enabled: true,
		SelectedDays: model.NewWeekdays(time.Monday, time.Wednesday, time.Friday)}
	require.NoError(t, s.Schedule(alarm))

	pending := host.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, time.Date(2024, 5, 20, 7, 0, 0, 0, time.UTC), pending[AlarmTriggerKey(3, time.Monday)])
	assert.Equal(t, time.Date(2024, 5, 22, 7, 0, 0, 0, time.UTC), pending[AlarmTriggerKey(3, time.Wednesday)])
	assert.Equal(t, time.Date(2024, 5, 17, 7, 0, 0, 0, time.UTC), pending[AlarmTriggerKey(3, time.Friday)])
	assert.Equal(t, time.Date(2024, 5, 17, 7, 0, 0, 0, time.UTC), s.NextFire(alarm))

	// Dropping a day removes its trigger, the rest are replaced.
	alarm.SelectedDays = model.NewWeekdays(time.Friday)
	require.NoError(t, s.Schedule(alarm))
	pending = host.Pending()
	require.Len(t, pending, 1)
	assert.Contains(t, pending, AlarmTriggerKey(3, time.Friday))
}

func TestAlarmSchedulerKeepsSnoozeOnReschedule(t *testing.T) {
	host := newManualHost()
	s := newTestScheduler(host, wednesday)
	alarm := model.Alarm{ID: 5, Hour: 7, Enabled: true}

	require.NoError(t, s.Snooze(5, wednesday.Add(10*time.Minute)))
	require.NoError(t, s.Schedule(alarm))
	assert.Len(t, host.Pending(), 2)

	s.Cancel(5)
	assert.Empty(t, host.Pending())
}

func TestAlarmSchedulerPermissionDenied(t *testing.T) {
	host := newManualHost()
	host.deny(true)
	s := newTestScheduler(host, wednesday)

	err := s.Schedule(model.Alarm{ID: 1, Hour: 7, Enabled: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, host.Pending())
}

func TestAlarmSchedulerRegistrationFailure(t *testing.T) {
	host := newManualHost()
	host.failWith = errors.New("host busy")
	s := newTestScheduler(host, wednesday)

	err := s.Schedule(model.Alarm{ID: 1, Hour: 7, Enabled: true, SelectedDays: model.NewWeekdays(time.Monday, time.Tuesday)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTriggerRegistration)

	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, uint(1), engineErr.ID)
}

func TestAlarmSchedulerScheduleDay(t *testing.T) {
	host := newManualHost()
	s := newTestScheduler(host, wednesday)
	alarm := model.Alarm{ID: 2, Hour: 8, Minute: 30, Enabled: true, SelectedDays: model.NewWeekdays(time.Wednesday)}

	// Fired at 08:30 on Wednesday: next one is a week later.
	require.NoError(t, s.ScheduleDay(alarm, time.Wednesday))
	assert.Equal(t, time.Date(2024, 5, 22, 8, 30, 0, 0, time.UTC), host.Pending()[AlarmTriggerKey(2, time.Wednesday)])

	// A day no longer selected is dropped instead.
	require.NoError(t, s.ScheduleDay(alarm, time.Friday))
	assert.NotContains(t, host.Pending(), AlarmTriggerKey(2, time.Friday))
}
