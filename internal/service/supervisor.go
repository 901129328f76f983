package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"alarm-clock/pkg/logger"
)

// Supervisor keeps the single countdown notification alive while at least one timer is
// running. It polls through TimerService and never writes timers any other way.
type Supervisor struct {
	ctx      context.Context
	timers   *TimerService
	notifier Notifier
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	kicked bool
}

// NewSupervisor binds the supervisor to ctx; loops started by Ensure end with it.
func NewSupervisor(ctx context.Context, timers *TimerService, notifier Notifier, interval time.Duration, log *logger.Logger) *Supervisor {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Supervisor{
		ctx:      ctx,
		timers:   timers,
		notifier: notifier,
		interval: interval,
		log:      log.Component("supervisor"),
	}
}

// Ensure starts the poll loop unless it is already running.
func (s *Supervisor) Ensure(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.kicked = true
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.kicked = false
	go s.loop(ctx, s.done)
	s.log.Debug("supervisor started")
}

// Stop ends the poll loop and waits for it. Safe to call at any time.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		s.mu.Lock()
		s.kicked = false
		s.mu.Unlock()

		if !s.poll(ctx) && s.finish(ctx) {
			s.log.Debug("no running timers, supervisor exits")
			return
		}

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.clear(ctx)
			s.cancel = nil
			s.mu.Unlock()
			return
		case <-ticker.C:
		}
	}
}

// finish clears the countdown and the running flag unless Ensure was called during
// the last poll.
func (s *Supervisor) finish(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kicked {
		return false
	}
	s.clear(ctx)
	s.cancel()
	s.cancel = nil
	return true
}

func (s *Supervisor) clear(ctx context.Context) {
	if err := s.notifier.ClearCountdown(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("clear countdown", logger.Err(err))
	}
}

// poll reports whether any timer is still running. Errors count as running so a
// flaky store never drops the notification.
func (s *Supervisor) poll(ctx context.Context) bool {
	running, err := s.timers.PollRunning(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("poll timers", logger.Err(err))
		}
		return true
	}
	if len(running) == 0 {
		return false
	}

	nearest := running[0]
	view := CountdownView{
		TimerID:     nearest.ID,
		RemainingMs: nearest.RemainingDurationMs,
		Paused:      nearest.IsPaused,
		Running:     len(running),
	}
	if err := s.notifier.ShowCountdown(ctx, view); err != nil && ctx.Err() == nil {
		s.log.Warn("show countdown", slog.Uint64("timer", uint64(nearest.ID)), logger.Err(err))
	}
	return true
}
