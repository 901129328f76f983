package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var errSchedulerStopped = errors.New("scheduler stopped")

// SchedulerService wraps cron. Besides periodic jobs it hosts the exact one-shot
// triggers of alarms, snoozes and timers, keyed by TriggerKey.
type SchedulerService struct {
	cron  *cron.Cron
	exact atomic.Bool

	mu       sync.Mutex
	handler  TriggerHandler
	triggers map[TriggerKey]*registration
	stopped  bool
}

type registration struct {
	key     TriggerKey
	at      time.Time
	entryID cron.EntryID
}

// oneShot fires once at a fixed instant. cron asks for Next when the entry is placed
// and again after each run; only the first answer may lie in the past.
type oneShot struct {
	at    time.Time
	calls atomic.Int32
}

func (s *oneShot) Next(t time.Time) time.Time {
	if s.calls.Add(1) == 1 || t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

func NewSchedulerService(loc *time.Location) *SchedulerService {
	s := &SchedulerService{
		cron:     cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		triggers: make(map[TriggerKey]*registration),
	}
	s.exact.Store(true)
	return s
}

// SetHandler installs the callback for fired triggers.
func (s *SchedulerService) SetHandler(h TriggerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetExactAllowed records whether the host grants exact scheduling.
func (s *SchedulerService) SetExactAllowed(allowed bool) {
	s.exact.Store(allowed)
}

func (s *SchedulerService) CanScheduleExact() bool {
	return s.exact.Load()
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *SchedulerService) ScheduleDaily(timeStr string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, job)
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

func (s *SchedulerService) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ScheduleInterval registers a periodic job every given duration.
func (s *SchedulerService) ScheduleInterval(interval time.Duration, job func()) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	// Convert to cron spec: every N seconds.
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	return s.cron.AddFunc(spec, job)
}

// Register places a one-shot trigger at the given instant, replacing any trigger under
// the same key. Instants in the past fire right away.
func (s *SchedulerService) Register(key TriggerKey, at time.Time) error {
	if !s.CanScheduleExact() {
		return ErrPermissionDenied
	}
	if at.IsZero() {
		return fmt.Errorf("register %s: zero fire time", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("register %s: %w", key, errSchedulerStopped)
	}
	if prev, ok := s.triggers[key]; ok {
		s.cron.Remove(prev.entryID)
	}

	reg := &registration{key: key, at: at}
	reg.entryID = s.cron.Schedule(&oneShot{at: at}, cron.FuncJob(func() {
		s.fire(reg)
	}))
	s.triggers[key] = reg
	return nil
}

func (s *SchedulerService) fire(reg *registration) {
	s.mu.Lock()
	current, ok := s.triggers[reg.key]
	if !ok || current != reg {
		// replaced or cancelled while the job was starting
		s.mu.Unlock()
		return
	}
	delete(s.triggers, reg.key)
	s.cron.Remove(reg.entryID)
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(reg.key, reg.at)
	}
}

func (s *SchedulerService) Cancel(key TriggerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(key)
}

func (s *SchedulerService) cancelLocked(key TriggerKey) {
	if reg, ok := s.triggers[key]; ok {
		s.cron.Remove(reg.entryID)
		delete(s.triggers, key)
	}
}

func (s *SchedulerService) CancelAlarm(alarmID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.triggers {
		if key.BelongsToAlarm(alarmID) {
			s.cancelLocked(key)
		}
	}
}

func (s *SchedulerService) CancelAlarmDays(alarmID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.triggers {
		if key.Kind == TriggerAlarm && key.ID == alarmID {
			s.cancelLocked(key)
		}
	}
}

// Pending returns a snapshot of registered triggers and their fire times.
func (s *SchedulerService) Pending() map[TriggerKey]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[TriggerKey]time.Time, len(s.triggers))
	for key, reg := range s.triggers {
		out[key] = reg.at
	}
	return out
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
