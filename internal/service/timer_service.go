package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"alarm-clock/internal/model"
	"alarm-clock/pkg/logger"
)

// ExtendStepMs is what "+1 minute" adds.
const ExtendStepMs int64 = 60_000

type timerState struct {
	mu      sync.Mutex
	session *Session
}

// TimerView is a timer with its live remaining time at the moment of the read.
type TimerView struct {
	model.Timer
	LiveRemainingMs int64
	Expired         bool
}

// TimerService is the countdown engine. Every mutation of a timer runs under that
// timer's lock and writes through TimerStore.Update.
type TimerService struct {
	timers    TimerStore
	host      TriggerScheduler
	sessions  *Sessions
	retention time.Duration
	now       func() time.Time
	log       *logger.Logger

	onActivity func(ctx context.Context)

	mu     sync.Mutex
	states map[uint]*timerState
}

func NewTimerService(timers TimerStore, host TriggerScheduler, sessions *Sessions, retention time.Duration, log *logger.Logger) *TimerService {
	return &TimerService{
		timers:    timers,
		host:      host,
		sessions:  sessions,
		retention: retention,
		now:       time.Now,
		log:       log.Component("timers"),
		states:    make(map[uint]*timerState),
	}
}

// OnActivity registers a callback run after a timer starts counting down.
func (s *TimerService) OnActivity(fn func(ctx context.Context)) {
	s.onActivity = fn
}

func (s *TimerService) lock(id uint) (*timerState, func()) {
	s.mu.Lock()
	st, ok := s.states[id]
	if !ok {
		st = &timerState{}
		s.states[id] = st
	}
	s.mu.Unlock()

	st.mu.Lock()
	return st, st.mu.Unlock
}

func (s *TimerService) forget(id uint) {
	s.mu.Lock()
	delete(s.states, id)
	s.mu.Unlock()
}

// mutate applies fn at the current instant. The instant never goes behind the stored
// lastTick so the checkpoint stays monotonic. A timer missing from the store has its
// in-memory state dropped.
func (s *TimerService) mutate(ctx context.Context, st *timerState, op string, id uint, fn func(t *model.Timer, nowMs int64) (bool, error)) (*model.Timer, error) {
	nowMs := s.now().UnixMilli()
	timer, err := s.timers.Update(ctx, id, func(t *model.Timer) (bool, error) {
		return fn(t, max(nowMs, t.LastTickTimeEpochMs))
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.release(ctx, st, id)
		}
		return nil, storeError(op, id, err)
	}
	return timer, nil
}

// release drops everything held for a timer that no longer exists. st must be locked.
func (s *TimerService) release(ctx context.Context, st *timerState, id uint) {
	s.host.Cancel(TimerTriggerKey(id))
	s.closeSession(ctx, st, id)
	s.forget(id)
}

func noop(op string, id uint, reason string) error {
	return newError(ErrInvalidState, op, id, errors.New(reason))
}

// complete marks the timer finished and re-arms it: full duration, paused.
func complete(t *model.Timer, nowMs int64) {
	ended := nowMs
	t.EndedAtEpochMs = &ended
	t.RemainingDurationMs = t.CurrentInitialDurationMs
	t.LastTickTimeEpochMs = nowMs
	t.IsRunning = true
	t.IsPaused = true
}

func (s *TimerService) CreateTimer(ctx context.Context, duration time.Duration) (*model.Timer, error) {
	const op = "create timer"
	if duration < time.Millisecond {
		return nil, newError(ErrInvalidInput, op, 0, fmt.Errorf("duration %s too short", duration))
	}

	ms := duration.Milliseconds()
	timer := model.Timer{
		InitialDurationMs:        ms,
		CurrentInitialDurationMs: ms,
		RemainingDurationMs:      ms,
		LastTickTimeEpochMs:      s.now().UnixMilli(),
		IsRunning:                true,
	}
	if err := s.timers.Create(ctx, &timer); err != nil {
		return nil, storeError(op, 0, err)
	}

	s.arm(timer)
	s.activity(ctx)
	s.log.Info("timer created", slog.Uint64("timer", uint64(timer.ID)), slog.Duration("duration", duration))
	return &timer, nil
}

// Tick checkpoints the live remaining time of an active timer and completes it when
// it reaches zero. Paused timers are returned unchanged.
func (s *TimerService) Tick(ctx context.Context, id uint) (*model.Timer, error) {
	st, unlock := s.lock(id)
	defer unlock()
	return s.tickLocked(ctx, st, id)
}

func (s *TimerService) tickLocked(ctx context.Context, st *timerState, id uint) (*model.Timer, error) {
	completed := false
	timer, err := s.mutate(ctx, st, "tick timer", id, func(t *model.Timer, nowMs int64) (bool, error) {
		if !t.Active() {
			return false, nil
		}
		live := t.LiveRemainingMs(nowMs)
		if live == 0 {
			complete(t, nowMs)
			completed = true
			return true, nil
		}
		t.RemainingDurationMs = live
		t.LastTickTimeEpochMs = nowMs
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if completed {
		s.finish(ctx, st, *timer)
	}
	return timer, nil
}

// Expire handles the expiry trigger of a timer. An early trigger is re-armed.
func (s *TimerService) Expire(ctx context.Context, id uint) error {
	st, unlock := s.lock(id)
	defer unlock()

	timer, err := s.tickLocked(ctx, st, id)
	if err != nil {
		return err
	}
	if timer.Active() {
		s.arm(*timer)
	}
	return nil
}

func (s *TimerService) PauseTimer(ctx context.Context, id uint) (*model.Timer, error) {
	const op = "pause timer"
	st, unlock := s.lock(id)
	defer unlock()

	completed := false
	timer, err := s.mutate(ctx, st, op, id, func(t *model.Timer, nowMs int64) (bool, error) {
		if !t.Active() {
			return false, noop(op, id, "timer not running")
		}
		live := t.LiveRemainingMs(nowMs)
		if live == 0 {
			complete(t, nowMs)
			completed = true
			return true, nil
		}
		t.RemainingDurationMs = live
		t.LastTickTimeEpochMs = nowMs
		t.IsPaused = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.host.Cancel(TimerTriggerKey(id))
	if completed {
		s.finish(ctx, st, *timer)
	}
	return timer, nil
}

func (s *TimerService) ResumeTimer(ctx context.Context, id uint) (*model.Timer, error) {
	const op = "resume timer"
	st, unlock := s.lock(id)
	defer unlock()

	timer, err := s.mutate(ctx, st, op, id, func(t *model.Timer, nowMs int64) (bool, error) {
		if t.Active() {
			return false, noop(op, id, "timer already running")
		}
		if t.RemainingDurationMs <= 0 {
			t.RemainingDurationMs = t.CurrentInitialDurationMs
		}
		t.IsRunning = true
		t.IsPaused = false
		t.LastTickTimeEpochMs = nowMs
		t.EndedAtEpochMs = nil
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.closeSession(ctx, st, id)
	s.arm(*timer)
	s.activity(ctx)
	return timer, nil
}

// ExtendTimer adds a minute to an active timer, or restarts an inactive one with a
// fresh minute.
func (s *TimerService) ExtendTimer(ctx context.Context, id uint) (*model.Timer, error) {
	st, unlock := s.lock(id)
	defer unlock()

	timer, err := s.mutate(ctx, st, "extend timer", id, func(t *model.Timer, nowMs int64) (bool, error) {
		if t.Active() {
			t.RemainingDurationMs = t.LiveRemainingMs(nowMs) + ExtendStepMs
			t.CurrentInitialDurationMs += ExtendStepMs
		} else {
			t.RemainingDurationMs = ExtendStepMs
			t.CurrentInitialDurationMs = ExtendStepMs
			t.IsRunning = true
			t.IsPaused = false
			t.EndedAtEpochMs = nil
		}
		t.LastTickTimeEpochMs = nowMs
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.closeSession(ctx, st, id)
	s.arm(*timer)
	s.activity(ctx)
	return timer, nil
}

// ResetTimer returns the timer to its current initial duration, paused.
func (s *TimerService) ResetTimer(ctx context.Context, id uint) (*model.Timer, error) {
	st, unlock := s.lock(id)
	defer unlock()

	timer, err := s.mutate(ctx, st, "reset timer", id, func(t *model.Timer, nowMs int64) (bool, error) {
		t.RemainingDurationMs = t.CurrentInitialDurationMs
		t.IsPaused = true
		t.LastTickTimeEpochMs = nowMs
		t.EndedAtEpochMs = nil
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.host.Cancel(TimerTriggerKey(id))
	s.closeSession(ctx, st, id)
	return timer, nil
}

// StopTimer deletes the timer and releases whatever it holds.
func (s *TimerService) StopTimer(ctx context.Context, id uint) error {
	st, unlock := s.lock(id)
	defer unlock()

	if err := s.timers.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.release(ctx, st, id)
		}
		return storeError("stop timer", id, err)
	}
	s.release(ctx, st, id)
	s.log.Info("timer stopped", slog.Uint64("timer", uint64(id)))
	return nil
}

// DismissExpired silences an expired timer without touching its state.
func (s *TimerService) DismissExpired(ctx context.Context, id uint) error {
	st, unlock := s.lock(id)
	defer unlock()

	if st.session == nil {
		return noop("dismiss timer", id, "timer not ringing")
	}
	s.closeSession(ctx, st, id)
	return nil
}

// Apply runs a notification action against a timer.
func (s *TimerService) Apply(ctx context.Context, id uint, action TimerAction) error {
	var err error
	switch action {
	case TimerPause:
		_, err = s.PauseTimer(ctx, id)
	case TimerResume:
		_, err = s.ResumeTimer(ctx, id)
	case TimerReset:
		_, err = s.ResetTimer(ctx, id)
	case TimerStop:
		err = s.StopTimer(ctx, id)
	case TimerDismiss:
		err = s.DismissExpired(ctx, id)
	default:
		err = newError(ErrInvalidInput, "timer action", id, fmt.Errorf("unknown action %q", action))
	}
	return err
}

// ListTimers returns every timer with its live remaining time. Nothing is written.
func (s *TimerService) ListTimers(ctx context.Context) ([]TimerView, error) {
	timers, err := s.timers.List(ctx)
	if err != nil {
		return nil, storeError("list timers", 0, err)
	}
	nowMs := s.now().UnixMilli()

	views := make([]TimerView, 0, len(timers))
	for _, t := range timers {
		views = append(views, TimerView{
			Timer:           t,
			LiveRemainingMs: t.LiveRemainingMs(nowMs),
			Expired:         s.ringing(t.ID),
		})
	}
	return views, nil
}

// PollRunning ticks every active timer and returns the timers flagged running,
// nearest deadline first, unpaused before paused.
func (s *TimerService) PollRunning(ctx context.Context) ([]model.Timer, error) {
	running, err := s.timers.ListRunning(ctx)
	if err != nil {
		return nil, storeError("poll timers", 0, err)
	}

	out := make([]model.Timer, 0, len(running))
	for _, t := range running {
		if t.Active() {
			ticked, err := s.Tick(ctx, t.ID)
			if err != nil {
				if !IsNoop(err) {
					s.log.Error("tick timer", slog.Uint64("timer", uint64(t.ID)), logger.Err(err))
				}
				continue
			}
			t = *ticked
		}
		if t.IsRunning {
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsPaused != out[j].IsPaused {
			return !out[i].IsPaused
		}
		return out[i].RemainingDurationMs < out[j].RemainingDurationMs
	})
	return out, nil
}

// CleanupTimers deletes timers that completed and stayed paused longer than the
// retention period.
func (s *TimerService) CleanupTimers(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention).UnixMilli()
	n, err := s.timers.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		return 0, storeError("cleanup timers", 0, err)
	}
	if n == 0 {
		return 0, nil
	}

	s.mu.Lock()
	ids := make([]uint, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.timers.FindByID(ctx, id); err == nil {
			continue
		}
		st, unlock := s.lock(id)
		s.closeSession(ctx, st, id)
		unlock()
		s.forget(id)
	}

	s.log.Info("timers cleaned up", slog.Int64("deleted", n))
	return n, nil
}

func (s *TimerService) ringing(id uint) bool {
	s.mu.Lock()
	st, ok := s.states[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session != nil
}

// finish cancels the expiry trigger and opens the expired session.
func (s *TimerService) finish(ctx context.Context, st *timerState, timer model.Timer) {
	s.host.Cancel(TimerTriggerKey(timer.ID))
	s.closeSession(ctx, st, timer.ID)

	sess, err := s.sessions.OpenTimer(ctx, timer)
	if err != nil {
		s.log.Error("open timer session", slog.Uint64("timer", uint64(timer.ID)), logger.Err(err))
		return
	}
	st.session = sess
	s.log.Info("timer completed", slog.Uint64("timer", uint64(timer.ID)))
}

func (s *TimerService) closeSession(ctx context.Context, st *timerState, id uint) {
	if st.session == nil {
		return
	}
	if err := st.session.Close(ctx); err != nil {
		s.log.Warn("close timer session", slog.Uint64("timer", uint64(id)), logger.Err(err))
	}
	st.session = nil
}

// arm registers the expiry trigger. Failures are only logged: the supervisor tick
// detects completion as well.
func (s *TimerService) arm(timer model.Timer) {
	if !timer.Active() {
		return
	}
	at := time.UnixMilli(timer.LastTickTimeEpochMs + timer.RemainingDurationMs)
	if err := s.host.Register(TimerTriggerKey(timer.ID), at); err != nil {
		s.log.Warn("register timer trigger", slog.Uint64("timer", uint64(timer.ID)), logger.Err(err))
	}
}

func (s *TimerService) activity(ctx context.Context) {
	if s.onActivity != nil {
		s.onActivity(ctx)
	}
}
