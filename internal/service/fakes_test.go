package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"alarm-clock/internal/model"
	"alarm-clock/pkg/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeAlarmStore struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]model.Alarm
	err    error
}

func newFakeAlarmStore() *fakeAlarmStore {
	return &fakeAlarmStore{rows: make(map[uint]model.Alarm)}
}

func (s *fakeAlarmStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeAlarmStore) Create(_ context.Context, alarm *model.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.nextID++
	alarm.ID = s.nextID
	s.rows[alarm.ID] = *alarm
	return nil
}

func (s *fakeAlarmStore) FindByID(_ context.Context, id uint) (*model.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	a, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &a, nil
}

func (s *fakeAlarmStore) List(context.Context) ([]model.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.Alarm, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeAlarmStore) ListEnabled(ctx context.Context) ([]model.Alarm, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAlarmStore) Update(_ context.Context, id uint, fn func(*model.Alarm) (bool, error)) (*model.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	a, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	changed, err := fn(&a)
	if err != nil {
		return nil, err
	}
	if changed {
		s.rows[id] = a
	}
	return &a, nil
}

func (s *fakeAlarmStore) Delete(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *fakeAlarmStore) get(id uint) model.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

type fakeTimerStore struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]model.Timer
}

func newFakeTimerStore() *fakeTimerStore {
	return &fakeTimerStore{rows: make(map[uint]model.Timer)}
}

func (s *fakeTimerStore) Create(_ context.Context, timer *model.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	timer.ID = s.nextID
	s.rows[timer.ID] = *timer
	return nil
}

func (s *fakeTimerStore) FindByID(_ context.Context, id uint) (*model.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &t, nil
}

func (s *fakeTimerStore) List(context.Context) ([]model.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Timer, 0, len(s.rows))
	for _, t := range s.rows {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeTimerStore) ListRunning(ctx context.Context) ([]model.Timer, error) {
	all, _ := s.List(ctx)
	out := all[:0]
	for _, t := range all {
		if t.IsRunning {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTimerStore) Update(_ context.Context, id uint, fn func(*model.Timer) (bool, error)) (*model.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	changed, err := fn(&t)
	if err != nil {
		return nil, err
	}
	if changed {
		s.rows[id] = t
	}
	return &t, nil
}

func (s *fakeTimerStore) Delete(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *fakeTimerStore) DeleteEndedBefore(_ context.Context, cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.rows {
		if t.IsPaused && t.EndedAtEpochMs != nil && *t.EndedAtEpochMs < cutoffMs {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeTimerStore) get(id uint) model.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

// manualHost records registrations instead of firing them.
type manualHost struct {
	mu       sync.Mutex
	triggers map[TriggerKey]time.Time
	denied   bool
	failWith error
}

func newManualHost() *manualHost {
	return &manualHost{triggers: make(map[TriggerKey]time.Time)}
}

func (h *manualHost) Register(key TriggerKey, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.denied {
		return ErrPermissionDenied
	}
	if h.failWith != nil {
		return h.failWith
	}
	h.triggers[key] = at
	return nil
}

func (h *manualHost) Cancel(key TriggerKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.triggers, key)
}

func (h *manualHost) CancelAlarm(alarmID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.triggers {
		if key.BelongsToAlarm(alarmID) {
			delete(h.triggers, key)
		}
	}
}

func (h *manualHost) CancelAlarmDays(alarmID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.triggers {
		if key.Kind == TriggerAlarm && key.ID == alarmID {
			delete(h.triggers, key)
		}
	}
}

func (h *manualHost) Pending() map[TriggerKey]time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[TriggerKey]time.Time, len(h.triggers))
	for k, v := range h.triggers {
		out[k] = v
	}
	return out
}

func (h *manualHost) CanScheduleExact() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.denied
}

func (h *manualHost) deny(denied bool) {
	h.mu.Lock()
	h.denied = denied
	h.mu.Unlock()
}

// recordingNotifier keeps shown notifications until they are dismissed.
type recordingNotifier struct {
	mu        sync.Mutex
	seq       int
	open      map[NotificationHandle]string
	canSnooze []bool
	countdown []CountdownView
	cleared   int
	failShow  error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{open: make(map[NotificationHandle]string)}
}

func (n *recordingNotifier) add(kind string) NotificationHandle {
	n.seq++
	h := NotificationHandle(kind + ":" + strconv.Itoa(n.seq))
	n.open[h] = kind
	return h
}

func (n *recordingNotifier) ShowAlarm(_ context.Context, _ model.Alarm, canSnooze bool) (NotificationHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failShow != nil {
		return "", n.failShow
	}
	n.canSnooze = append(n.canSnooze, canSnooze)
	return n.add("alarm"), nil
}

func (n *recordingNotifier) ShowTimerExpired(context.Context, model.Timer) (NotificationHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failShow != nil {
		return "", n.failShow
	}
	return n.add("timer"), nil
}

func (n *recordingNotifier) Dismiss(_ context.Context, h NotificationHandle) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.open, h)
	return nil
}

func (n *recordingNotifier) ShowCountdown(_ context.Context, view CountdownView) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.countdown = append(n.countdown, view)
	return nil
}

func (n *recordingNotifier) ClearCountdown(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared++
	return nil
}

func (n *recordingNotifier) openCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.open)
}

func (n *recordingNotifier) lastCountdown() (CountdownView, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.countdown) == 0 {
		return CountdownView{}, false
	}
	return n.countdown[len(n.countdown)-1], true
}

type countingRinger struct {
	mu      sync.Mutex
	playing int
	fail    error
}

type countingPlayback struct {
	r    *countingRinger
	once sync.Once
}

func (p *countingPlayback) Stop() error {
	p.once.Do(func() {
		p.r.mu.Lock()
		p.r.playing--
		p.r.mu.Unlock()
	})
	return nil
}

func (r *countingRinger) Ring(context.Context, RingRequest) (Playback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	r.playing++
	return &countingPlayback{r: r}, nil
}

func (r *countingRinger) Playing() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

var errBoom = errors.New("boom")

// engine wires the services against fakes.
type engine struct {
	clock     *fakeClock
	alarms    *fakeAlarmStore
	timers    *fakeTimerStore
	host      *manualHost
	notifier  *recordingNotifier
	ringer    *countingRinger
	locks     *WakeLocks
	scheduler *AlarmScheduler
	timerSvc  *TimerService
	disp      *Dispatcher
	alarmSvc  *AlarmService
	restore   *RestoreService
}

func newEngine(now time.Time) *engine {
	log := logger.Discard()
	e := &engine{
		clock:    newFakeClock(now),
		alarms:   newFakeAlarmStore(),
		timers:   newFakeTimerStore(),
		host:     newManualHost(),
		notifier: newRecordingNotifier(),
		ringer:   &countingRinger{},
		locks:    NewWakeLocks(log),
	}
	sessions := NewSessions(e.ringer, e.notifier, e.locks, time.Minute, log)

	e.scheduler = NewAlarmScheduler(e.host, now.Location(), log)
	e.scheduler.now = e.clock.Now

	e.timerSvc = NewTimerService(e.timers, e.host, sessions, 24*time.Hour, log)
	e.timerSvc.now = e.clock.Now

	e.disp = NewDispatcher(e.alarms, e.scheduler, sessions, e.timerSvc, NewBus(8), DispatcherConfig{
		SnoozeDelay:    10 * time.Minute,
		MaxSnoozeCount: 2,
	}, log)
	e.disp.now = e.clock.Now

	e.alarmSvc = NewAlarmService(e.alarms, e.scheduler, e.disp, log)
	e.restore = NewRestoreService(e.alarms, e.scheduler, e.host, log)
	return e
}
