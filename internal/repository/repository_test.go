package repository

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"alarm-clock/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "test.db"), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestAlarmRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewAlarmRepository(newTestDB(t))

	alarm := &model.Alarm{
		Hour:          7,
		Minute:        30,
		SelectedDays:  model.NewWeekdays(time.Monday, time.Wednesday),
		Enabled:       true,
		ChallengeType: model.ChallengeMath,
		Label:         "work",
	}
	require.NoError(t, repo.Create(ctx, alarm))
	require.NotZero(t, alarm.ID)

	disabled := &model.Alarm{Hour: 9, Minute: 0, Enabled: false}
	require.NoError(t, repo.Create(ctx, disabled))

	got, err := repo.FindByID(ctx, alarm.ID)
	require.NoError(t, err)
	assert.True(t, got.SelectedDays.Has(time.Wednesday))
	assert.False(t, got.SelectedDays.Has(time.Friday))
	assert.Equal(t, model.ChallengeMath, got.ChallengeType)

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, alarm.ID, enabled[0].ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	updated, err := repo.Update(ctx, alarm.ID, func(a *model.Alarm) (bool, error) {
		a.Enabled = false
		return true, nil
	})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	got, err = repo.FindByID(ctx, alarm.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, repo.Delete(ctx, alarm.ID))
	assert.ErrorIs(t, repo.Delete(ctx, alarm.ID), gorm.ErrRecordNotFound)

	_, err = repo.Update(ctx, alarm.ID, func(a *model.Alarm) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTimerRepository_UpdateSerializesPerID(t *testing.T) {
	ctx := context.Background()
	repo := NewTimerRepository(newTestDB(t))

	timer := &model.Timer{InitialDurationMs: 1000, CurrentInitialDurationMs: 1000, RemainingDurationMs: 0, IsRunning: true}
	require.NoError(t, repo.Create(ctx, timer))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, timer.ID, func(tm *model.Timer) (bool, error) {
				tm.RemainingDurationMs += 100
				return true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.FindByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*100), got.RemainingDurationMs)
}

func TestTimerRepository_DeleteEndedBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewTimerRepository(newTestDB(t))

	old := int64(1_000)
	recent := int64(9_000)
	require.NoError(t, repo.Create(ctx, &model.Timer{IsRunning: true, IsPaused: true, EndedAtEpochMs: &old}))
	require.NoError(t, repo.Create(ctx, &model.Timer{IsRunning: true, IsPaused: true, EndedAtEpochMs: &recent}))
	require.NoError(t, repo.Create(ctx, &model.Timer{IsRunning: true, IsPaused: false}))

	n, err := repo.DeleteEndedBefore(ctx, 5_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	running, err := repo.ListRunning(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 2)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
