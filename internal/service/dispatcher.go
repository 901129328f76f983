package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"alarm-clock/internal/model"
	"alarm-clock/pkg/logger"
)

// RingStatus is the state of an alarm occurrence.
type RingStatus string

const (
	StatusIdle    RingStatus = "idle"
	StatusRinging RingStatus = "ringing"
	StatusSnoozed RingStatus = "snoozed"
)

// RingState is a snapshot of one alarm's occurrence state.
type RingState struct {
	Status    RingStatus
	Snoozes   int
	CanSnooze bool
}

type ringState struct {
	mu      sync.Mutex
	status  RingStatus
	snoozes int
	session *Session
}

// DispatcherConfig carries the snooze settings.
type DispatcherConfig struct {
	SnoozeDelay    time.Duration
	MaxSnoozeCount int
}

// Dispatcher reacts to fired alarm triggers and to Snooze/Stop actions. It is the only
// consumer of the event bus and forwards timer events to the TimerService.
type Dispatcher struct {
	alarms    AlarmStore
	scheduler *AlarmScheduler
	sessions  *Sessions
	timers    *TimerService
	bus       *Bus
	cfg       DispatcherConfig
	now       func() time.Time
	log       *logger.Logger

	mu     sync.Mutex
	states map[uint]*ringState
}

func NewDispatcher(alarms AlarmStore, scheduler *AlarmScheduler, sessions *Sessions, timers *TimerService, bus *Bus, cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		alarms:    alarms,
		scheduler: scheduler,
		sessions:  sessions,
		timers:    timers,
		bus:       bus,
		cfg:       cfg,
		now:       time.Now,
		log:       log.Component("dispatcher"),
		states:    make(map[uint]*ringState),
	}
}

func (d *Dispatcher) state(id uint) *ringState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[id]
	if !ok {
		st = &ringState{status: StatusIdle}
		d.states[id] = st
	}
	return st
}

// Fire starts ringing an alarm. A normal fire begins a new episode and re-registers
// the fired weekday for next week; a snooze fire is accepted only while snoozed.
func (d *Dispatcher) Fire(ctx context.Context, ev AlarmFired) error {
	const op = "fire alarm"

	st := d.state(ev.AlarmID)
	st.mu.Lock()
	defer st.mu.Unlock()

	alarm, err := d.alarms.FindByID(ctx, ev.AlarmID)
	if err != nil {
		return storeError(op, ev.AlarmID, err)
	}
	if !alarm.Enabled {
		if _, err := d.scheduler.Sync(ctx, d.alarms, alarm.ID); err != nil {
			d.log.Warn("sync disabled alarm", slog.Uint64("alarm", uint64(alarm.ID)), logger.Err(err))
		}
		return newError(ErrInvalidState, op, alarm.ID, errors.New("alarm disabled"))
	}

	if ev.Snooze {
		if st.status != StatusSnoozed {
			return newError(ErrInvalidState, op, alarm.ID, errors.New("no snooze pending"))
		}
	} else {
		if st.status == StatusSnoozed {
			d.scheduler.CancelSnooze(alarm.ID)
		}
		st.snoozes = 0
		if ev.Weekday != NoWeekday {
			if err := d.scheduler.SyncDay(ctx, d.alarms, alarm.ID, time.Weekday(ev.Weekday)); err != nil {
				d.log.Error("reschedule weekday", slog.Uint64("alarm", uint64(alarm.ID)), logger.Err(err))
			}
		}
	}

	if st.session != nil {
		if err := st.session.Close(ctx); err != nil {
			d.log.Warn("close overlapping session", slog.Uint64("alarm", uint64(alarm.ID)), logger.Err(err))
		}
		st.session = nil
	}
	st.status = StatusRinging

	sess, err := d.sessions.OpenAlarm(ctx, *alarm, d.canSnooze(st))
	if err != nil {
		return err
	}
	st.session = sess
	d.log.Info("alarm ringing", slog.Uint64("alarm", uint64(alarm.ID)), slog.Bool("snooze", ev.Snooze), slog.Int("snoozes", st.snoozes))
	return nil
}

func (d *Dispatcher) canSnooze(st *ringState) bool {
	return st.snoozes < d.cfg.MaxSnoozeCount
}

// Snooze ends the ringing session and re-fires the alarm after the snooze delay.
func (d *Dispatcher) Snooze(ctx context.Context, alarmID uint) error {
	const op = "snooze alarm"

	st := d.state(alarmID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.status != StatusRinging {
		return newError(ErrInvalidState, op, alarmID, errors.New("alarm not ringing"))
	}
	if !d.canSnooze(st) {
		return newError(ErrSnoozeLimit, op, alarmID, nil)
	}

	at := d.now().Add(d.cfg.SnoozeDelay)
	if err := d.scheduler.Snooze(alarmID, at); err != nil {
		return err
	}

	if err := st.session.Close(ctx); err != nil {
		d.log.Warn("close session", slog.Uint64("alarm", uint64(alarmID)), logger.Err(err))
	}
	st.session = nil
	st.snoozes++
	st.status = StatusSnoozed

	d.log.Info("alarm snoozed", slog.Uint64("alarm", uint64(alarmID)), slog.Time("until", at), slog.Int("snoozes", st.snoozes))
	return nil
}

// Stop dismisses a ringing or snoozed alarm. An alarm without repeat days is disabled.
// When the store write fails the episode stays open, so Stop can be retried.
func (d *Dispatcher) Stop(ctx context.Context, alarmID uint) error {
	const op = "stop alarm"

	st := d.state(alarmID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.status == StatusIdle {
		return newError(ErrInvalidState, op, alarmID, errors.New("alarm not ringing"))
	}

	alarm, err := d.alarms.Update(ctx, alarmID, func(a *model.Alarm) (bool, error) {
		if a.Repeating() || !a.Enabled {
			return false, nil
		}
		a.Enabled = false
		return true, nil
	})
	if err != nil {
		if closeErr := st.session.Close(ctx); closeErr != nil {
			d.log.Warn("close session", slog.Uint64("alarm", uint64(alarmID)), logger.Err(closeErr))
		}
		st.session = nil
		return storeError(op, alarmID, err)
	}

	d.scheduler.CancelSnooze(alarmID)
	if err := st.session.Close(ctx); err != nil {
		d.log.Warn("close session", slog.Uint64("alarm", uint64(alarmID)), logger.Err(err))
	}
	st.session = nil
	st.status = StatusIdle
	st.snoozes = 0

	if !alarm.Repeating() {
		if _, err := d.scheduler.Sync(ctx, d.alarms, alarmID); err != nil {
			d.log.Warn("sync stopped alarm", slog.Uint64("alarm", uint64(alarmID)), logger.Err(err))
		}
	}

	d.log.Info("alarm stopped", slog.Uint64("alarm", uint64(alarmID)), slog.Bool("enabled", alarm.Enabled))
	return nil
}

// Silence drops any ringing or snoozed episode of the alarm without touching the
// store. Used when the alarm is deleted or disabled.
func (d *Dispatcher) Silence(ctx context.Context, alarmID uint) {
	st := d.state(alarmID)
	st.mu.Lock()
	if err := st.session.Close(ctx); err != nil {
		d.log.Warn("close session", slog.Uint64("alarm", uint64(alarmID)), logger.Err(err))
	}
	st.session = nil
	st.status = StatusIdle
	st.snoozes = 0
	st.mu.Unlock()

	d.mu.Lock()
	delete(d.states, alarmID)
	d.mu.Unlock()
}

func (d *Dispatcher) State(alarmID uint) RingState {
	st := d.state(alarmID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return RingState{Status: st.status, Snoozes: st.snoozes, CanSnooze: st.status == StatusRinging && d.canSnooze(st)}
}

// Run consumes the bus until ctx is done, then releases every open session.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started")
	defer d.closeAll()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return nil
		case ev := <-d.bus.Events():
			d.Handle(ctx, ev)
		}
	}
}

// Handle routes a single event. Failures are logged and never stop the loop.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	var err error
	switch e := ev.(type) {
	case AlarmFired:
		err = d.Fire(ctx, e)
	case SnoozeRequested:
		err = d.Snooze(ctx, e.AlarmID)
	case StopRequested:
		err = d.Stop(ctx, e.AlarmID)
	case TimerExpired:
		err = d.withTimers(func(ts *TimerService) error { return ts.Expire(ctx, e.TimerID) })
	case ExtendRequested:
		err = d.withTimers(func(ts *TimerService) error {
			_, err := ts.ExtendTimer(ctx, e.TimerID)
			return err
		})
	case TimerActionRequested:
		err = d.withTimers(func(ts *TimerService) error { return ts.Apply(ctx, e.TimerID, e.Action) })
	default:
		d.log.Warn("unknown event", slog.Any("event", ev))
		return
	}

	switch {
	case err == nil:
	case IsNoop(err):
		d.log.Debug("event ignored", slog.String("event", ev.eventName()), logger.Err(err))
	default:
		d.log.Error("handle event", slog.String("event", ev.eventName()), logger.Err(err))
	}
}

func (d *Dispatcher) withTimers(fn func(*TimerService) error) error {
	if d.timers == nil {
		return newError(ErrInvalidState, "timer event", 0, errors.New("timers not configured"))
	}
	return fn(d.timers)
}

func (d *Dispatcher) closeAll() {
	d.mu.Lock()
	states := make([]*ringState, 0, len(d.states))
	for _, st := range d.states {
		states = append(states, st)
	}
	d.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		_ = st.session.Close(context.Background())
		st.session = nil
		st.mu.Unlock()
	}
}
