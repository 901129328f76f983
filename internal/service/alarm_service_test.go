package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-clock/internal/model"
	"alarm-clock/pkg/logger"
)

func TestCreateAlarmValidation(t *testing.T) {
	e := newEngine(wednesday)
	ctx := context.Background()

	for _, in := range []AlarmInput{
		{Hour: 24},
		{Hour: -1},
		{Minute: 60},
		{Challenge: "dance"},
	} {
		_, err := e.alarmSvc.CreateAlarm(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Empty(t, e.alarms.rows)
}

func TestCreateAlarmDefaults(t *testing.T) {
	e := newEngine(wednesday)

	alarm, err := e.alarmSvc.CreateAlarm(context.Background(), AlarmInput{Hour: 6, Minute: 45, Label: "  gym "})
	require.NoError(t, err)
	assert.True(t, alarm.Enabled)
	assert.Equal(t, model.ChallengeNone, alarm.ChallengeType)
	assert.Equal(t, "gym", alarm.Label)
	assert.Equal(t, time.Date(2024, 5, 16, 6, 45, 0, 0, time.UTC), e.alarmSvc.NextFire(*alarm))
}

func TestUpdateAlarmReschedules(t *testing.T) {
	ctx := context.Background()
	e := newEngine(wednesday)
	alarm := createAlarm(t, e, 7, 0, time.Monday, time.Tuesday)

	updated, err := e.alarmSvc.UpdateAlarm(ctx, alarm.ID, AlarmInput{Hour: 9, Minute: 10, Days: model.NewWeekdays(time.Saturday)})
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Hour)

	pending := e.host.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Date(2024, 5, 18, 9, 10, 0, 0, time.UTC), pending[AlarmTriggerKey(alarm.ID, time.Saturday)])

	_, err = e.alarmSvc.UpdateAlarm(ctx, 404, AlarmInput{Hour: 1})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUpdateDisabledAlarmStaysUnscheduled(t *testing.T) {
	ctx := context.Background()
	e := newEngine(wednesday)
	alarm := createAlarm(t, e, 7, 0)

	_, err := e.alarmSvc.ToggleAlarm(ctx, alarm.ID, false)
	require.NoError(t, err)
	_, err = e.alarmSvc.UpdateAlarm(ctx, alarm.ID, AlarmInput{Hour: 8})
	require.NoError(t, err)
	assert.Empty(t, e.host.Pending())
}

func TestToggleAlarm(t *testing.T) {
	ctx := context.Background()
	e := newEngine(wednesday)
	alarm := createAlarm(t, e, 7, 0, time.Friday)

	off, err := e.alarmSvc.ToggleAlarm(ctx, alarm.ID, false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)
	assert.Empty(t, e.host.Pending())

	on, err := e.alarmSvc.ToggleAlarm(ctx, alarm.ID, true)
	require.NoError(t, err)
	assert.True(t, on.Enabled)
	assert.Len(t, e.host.Pending(), 1)

	// Enabling again only re-registers.
	_, err = e.alarmSvc.ToggleAlarm(ctx, alarm.ID, true)
	require.NoError(t, err)
	assert.Len(t, e.host.Pending(), 1)
}

func TestDeleteAlarm(t *testing.T) {
	ctx := context.Background()
	e := newEngine(wednesday)
	alarm := createAlarm(t, e, 7, 0, time.Friday)

	require.NoError(t, e.alarmSvc.DeleteAlarm(ctx, alarm.ID))
	assert.Empty(t, e.host.Pending())

	_, err := e.alarmSvc.GetAlarm(ctx, alarm.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, e.alarmSvc.DeleteAlarm(ctx, alarm.ID), ErrInvalidState)
}

func TestAlarmPersistenceFailure(t *testing.T) {
	e := newEngine(wednesday)
	e.alarms.err = errBoom

	_, err := e.alarmSvc.CreateAlarm(context.Background(), AlarmInput{Hour: 7})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, e.host.Pending())

	_, err = e.alarmSvc.ListAlarms(context.Background())
	assert.ErrorIs(t, err, ErrPersistence)
}

// racingStore runs another writer's change right after an Update commits, before the
// caller gets to sync triggers.
type racingStore struct {
	*fakeAlarmStore
	after func()
}

func (s *racingStore) Update(ctx context.Context, id uint, fn func(*model.Alarm) (bool, error)) (*model.Alarm, error) {
	alarm, err := s.fakeAlarmStore.Update(ctx, id, fn)
	if err == nil && s.after != nil {
		after := s.after
		s.after = nil
		after()
	}
	return alarm, err
}

func setEnabled(t *testing.T, store *fakeAlarmStore, id uint, enabled bool) {
	t.Helper()
	_, err := store.Update(context.Background(), id, func(a *model.Alarm) (bool, error) {
		a.Enabled = enabled
		return true, nil
	})
	require.NoError(t, err)
}

func TestUpdateAlarmSyncsFromLatestRow(t *testing.T) {
	ctx := context.Background()
	e := newEngine(wednesday)
	alarm := createAlarm(t, e, 7, 0, time.Friday)

	store := &racingStore{fakeAlarmStore: e.alarms}
	store.after = func() {
		setEnabled(t, e.alarms, alarm.ID, false)
		_, err := e.scheduler.Sync(ctx, e.alarms, alarm.ID)
		require.NoError(t, err)
	}
	svc := NewAlarmService(store, e.scheduler, e.disp, logger.Discard())

	_, err := svc.UpdateAlarm(ctx, alarm.ID, AlarmInput{Hour: 9, Days: model.NewWeekdays(time.Monday)})
	require.NoError(t, err)
	assert.False(t, e.alarms.get(alarm.ID).Enabled)
	assert.Empty(t, e.host.Pending())
}

func TestSchedulerSyncFollowsStoredRow(t *testing.T) {
	ctx := context.Background()
	e := newEngine(wednesday)
	alarm := createAlarm(t, e, 7, 0)
	require.Len(t, e.host.Pending(), 1)

	setEnabled(t, e.alarms, alarm.ID, false)
	synced, err := e.scheduler.Sync(ctx, e.alarms, alarm.ID)
	require.NoError(t, err)
	assert.False(t, synced.Enabled)
	assert.Empty(t, e.host.Pending())

	setEnabled(t, e.alarms, alarm.ID, true)
	_, err = e.scheduler.Sync(ctx, e.alarms, alarm.ID)
	require.NoError(t, err)
	assert.Contains(t, e.host.Pending(), OneShotTriggerKey(alarm.ID))

	require.NoError(t, e.alarms.Delete(ctx, alarm.ID))
	synced, err = e.scheduler.Sync(ctx, e.alarms, alarm.ID)
	require.NoError(t, err)
	assert.Nil(t, synced)
	assert.Empty(t, e.host.Pending())
}

func TestConcurrentTogglesEndWithStoredState(t *testing.T) {
	ctx := context.Background()
	e := newEngine(wednesday)
	alarm := createAlarm(t, e, 7, 0, time.Monday, time.Friday)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(enabled bool) {
			defer wg.Done()
			_, _ = e.alarmSvc.ToggleAlarm(ctx, alarm.ID, enabled)
		}(i%2 == 0)
	}
	wg.Wait()

	if e.alarms.get(alarm.ID).Enabled {
		assert.Len(t, e.host.Pending(), 2)
	} else {
		assert.Empty(t, e.host.Pending())
	}
}
