package service

import (
	"context"
	"time"
)

// Event is anything delivered to the dispatcher: fired triggers and user actions.
type Event interface {
	eventName() string
}

// AlarmFired is delivered when a day, one-shot or snooze trigger of an alarm fires.
type AlarmFired struct {
	AlarmID uint
	Weekday int
	Snooze  bool
	At      time.Time
}

// TimerExpired is delivered when the expiry trigger of a timer fires.
type TimerExpired struct {
	TimerID uint
	At      time.Time
}

type SnoozeRequested struct {
	AlarmID uint
}

type StopRequested struct {
	AlarmID uint
}

// ExtendRequested adds a minute to a timer.
type ExtendRequested struct {
	TimerID uint
}

// TimerAction names the remaining timer actions offered on notifications.
type TimerAction string

const (
	TimerPause   TimerAction = "pause"
	TimerResume  TimerAction = "resume"
	TimerReset   TimerAction = "reset"
	TimerStop    TimerAction = "stop"
	TimerDismiss TimerAction = "dismiss"
)

type TimerActionRequested struct {
	TimerID uint
	Action  TimerAction
}

func (AlarmFired) eventName() string           { return "alarm_fired" }
func (TimerExpired) eventName() string         { return "timer_expired" }
func (SnoozeRequested) eventName() string      { return "snooze_requested" }
func (StopRequested) eventName() string        { return "stop_requested" }
func (ExtendRequested) eventName() string      { return "extend_requested" }
func (TimerActionRequested) eventName() string { return "timer_action_requested" }

// EventFromTrigger maps a fired host trigger to its event.
func EventFromTrigger(key TriggerKey, at time.Time) Event {
	switch key.Kind {
	case TriggerTimer:
		return TimerExpired{TimerID: key.ID, At: at}
	case TriggerSnooze:
		return AlarmFired{AlarmID: key.ID, Weekday: NoWeekday, Snooze: true, At: at}
	default:
		return AlarmFired{AlarmID: key.ID, Weekday: key.Weekday, At: at}
	}
}

// Bus carries events from triggers and front-ends to the single consumer.
type Bus struct {
	ch chan Event
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{ch: make(chan Event, size)}
}

// Publish blocks until the event is queued or ctx is done.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerHandler adapts the bus to the host scheduler callback.
func (b *Bus) TriggerHandler(ctx context.Context) TriggerHandler {
	return func(key TriggerKey, at time.Time) {
		_ = b.Publish(ctx, EventFromTrigger(key, at))
	}
}

func (b *Bus) Events() <-chan Event {
	return b.ch
}
