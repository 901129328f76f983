package model

import "time"

// Timer is a countdown. RemainingDurationMs is a checkpoint taken at LastTickTimeEpochMs;
// while the timer runs unpaused the live value is derived from the wall clock.
type Timer struct {
	ID                       uint `gorm:"primaryKey"`
	InitialDurationMs        int64
	CurrentInitialDurationMs int64
	RemainingDurationMs      int64
	LastTickTimeEpochMs      int64
	IsRunning                bool `gorm:"index"`
	IsPaused                 bool
	EndedAtEpochMs           *int64
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Active reports whether the timer is counting down right now.
func (t *Timer) Active() bool {
	return t.IsRunning && !t.IsPaused
}

// LiveRemainingMs returns the remaining time at nowMs, clamped at zero. A clock that
// went backwards counts as no elapsed time.
func (t *Timer) LiveRemainingMs(nowMs int64) int64 {
	if !t.Active() {
		return t.RemainingDurationMs
	}
	elapsed := nowMs - t.LastTickTimeEpochMs
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := t.RemainingDurationMs - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
