package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"alarm-clock/internal/model"
	"alarm-clock/pkg/logger"
)

// RingRequest describes what a ringing session should play.
type RingRequest struct {
	SessionID string
	SoundRef  string
	Vibrate   bool
	Label     string
}

// Playback is a running sound/vibration output. Stop must be safe to call twice.
type Playback interface {
	Stop() error
}

// Ringer starts sound and vibration output for a session.
type Ringer interface {
	Ring(ctx context.Context, req RingRequest) (Playback, error)
}

// LogRinger only logs; the daemon has no audio hardware of its own.
type LogRinger struct {
	Log *logger.Logger
}

func (r LogRinger) Ring(_ context.Context, req RingRequest) (Playback, error) {
	r.Log.Info("ringing", "session", req.SessionID, "sound", req.SoundRef, "vibrate", req.Vibrate, "label", req.Label)
	return &logPlayback{log: r.Log, id: req.SessionID}, nil
}

type logPlayback struct {
	log  *logger.Logger
	id   string
	once sync.Once
}

func (p *logPlayback) Stop() error {
	p.once.Do(func() {
		p.log.Info("ringing stopped", "session", p.id)
	})
	return nil
}

// WakeLocks hands out wake locks with a bounded hold time.
type WakeLocks struct {
	mu   sync.Mutex
	held map[string]*WakeLock
	log  *logger.Logger
}

func NewWakeLocks(log *logger.Logger) *WakeLocks {
	return &WakeLocks{held: make(map[string]*WakeLock), log: log.Component("wakelock")}
}

// WakeLock is released explicitly or, at the latest, after its maximum hold time.
type WakeLock struct {
	ID  string
	Tag string

	owner *WakeLocks
	timer *time.Timer
	once  sync.Once
}

func (w *WakeLocks) Acquire(tag string, maxHold time.Duration) *WakeLock {
	lock := &WakeLock{ID: uuid.NewString(), Tag: tag, owner: w}

	w.mu.Lock()
	w.held[lock.ID] = lock
	w.mu.Unlock()

	lock.timer = time.AfterFunc(maxHold, func() {
		w.log.Warn("wake lock hold time exceeded", "tag", tag, "id", lock.ID)
		lock.Release()
	})
	return lock
}

// Held is the number of wake locks not yet released.
func (w *WakeLocks) Held() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.held)
}

func (l *WakeLock) Release() {
	l.once.Do(func() {
		if l.timer != nil {
			l.timer.Stop()
		}
		l.owner.mu.Lock()
		delete(l.owner.held, l.ID)
		l.owner.mu.Unlock()
	})
}

// Session owns everything a ringing alarm or expired timer holds: wake lock, playback
// and notification. Close releases all of it once.
type Session struct {
	ID string

	wake     *WakeLock
	playback Playback
	notifier Notifier
	handle   NotificationHandle
	log      *logger.Logger
	once     sync.Once
}

// Close releases the session resources. Later calls do nothing.
func (s *Session) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var errs []error
	s.once.Do(func() {
		if s.playback != nil {
			if err := s.playback.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop playback: %w", err))
			}
		}
		if s.handle != "" {
			if err := s.notifier.Dismiss(ctx, s.handle); err != nil {
				errs = append(errs, fmt.Errorf("dismiss notification: %w", err))
			}
		}
		if s.wake != nil {
			s.wake.Release()
		}
		s.log.Debug("session closed", slog.String("session", s.ID))
	})
	return errors.Join(errs...)
}

// Sessions opens ringing sessions.
type Sessions struct {
	ringer   Ringer
	notifier Notifier
	locks    *WakeLocks
	maxHold  time.Duration
	log      *logger.Logger
}

func NewSessions(ringer Ringer, notifier Notifier, locks *WakeLocks, maxHold time.Duration, log *logger.Logger) *Sessions {
	if maxHold <= 0 {
		maxHold = 10 * time.Minute
	}
	return &Sessions{ringer: ringer, notifier: notifier, locks: locks, maxHold: maxHold, log: log.Component("session")}
}

// OpenAlarm starts ringing for an alarm and shows its Snooze/Stop notification.
func (s *Sessions) OpenAlarm(ctx context.Context, alarm model.Alarm, canSnooze bool) (*Session, error) {
	return s.open(ctx, fmt.Sprintf("alarm:%d", alarm.ID), RingRequest{
		SoundRef: alarm.SoundRef,
		Vibrate:  alarm.Vibrate,
		Label:    alarm.Label,
	}, func() (NotificationHandle, error) {
		return s.notifier.ShowAlarm(ctx, alarm, canSnooze)
	})
}

// OpenTimer starts ringing for an expired timer.
func (s *Sessions) OpenTimer(ctx context.Context, timer model.Timer) (*Session, error) {
	return s.open(ctx, fmt.Sprintf("timer:%d", timer.ID), RingRequest{
		Vibrate: true,
		Label:   "timer",
	}, func() (NotificationHandle, error) {
		return s.notifier.ShowTimerExpired(ctx, timer)
	})
}

func (s *Sessions) open(ctx context.Context, tag string, req RingRequest, show func() (NotificationHandle, error)) (*Session, error) {
	sess := &Session{
		ID:       uuid.NewString(),
		notifier: s.notifier,
		log:      s.log,
	}
	sess.wake = s.locks.Acquire(tag, s.maxHold)

	req.SessionID = sess.ID
	playback, err := s.ringer.Ring(ctx, req)
	if err != nil {
		_ = sess.Close(ctx)
		return nil, fmt.Errorf("ring %s: %w", tag, err)
	}
	sess.playback = playback

	handle, err := show()
	if err != nil {
		_ = sess.Close(ctx)
		return nil, fmt.Errorf("notify %s: %w", tag, err)
	}
	sess.handle = handle

	s.log.Debug("session opened", slog.String("session", sess.ID), slog.String("tag", tag))
	return sess, nil
}
