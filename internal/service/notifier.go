package service

import (
	"context"

	"alarm-clock/internal/model"
)

// NotificationHandle identifies a shown notification so it can be dismissed later.
type NotificationHandle string

// CountdownView is what the single countdown notification shows.
type CountdownView struct {
	TimerID     uint
	RemainingMs int64
	Paused      bool
	// Running is the number of timers with isRunning set, paused ones included.
	Running int
}

// Notifier is the user-facing notification surface.
type Notifier interface {
	ShowAlarm(ctx context.Context, alarm model.Alarm, canSnooze bool) (NotificationHandle, error)
	ShowTimerExpired(ctx context.Context, timer model.Timer) (NotificationHandle, error)
	Dismiss(ctx context.Context, handle NotificationHandle) error
	ShowCountdown(ctx context.Context, view CountdownView) error
	ClearCountdown(ctx context.Context) error
}

// NopNotifier shows nothing.
type NopNotifier struct{}

func (NopNotifier) ShowAlarm(context.Context, model.Alarm, bool) (NotificationHandle, error) {
	return "", nil
}

func (NopNotifier) ShowTimerExpired(context.Context, model.Timer) (NotificationHandle, error) {
	return "", nil
}

func (NopNotifier) Dismiss(context.Context, NotificationHandle) error  { return nil }
func (NopNotifier) ShowCountdown(context.Context, CountdownView) error { return nil }
func (NopNotifier) ClearCountdown(context.Context) error               { return nil }
