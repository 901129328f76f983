package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alarm-clock/internal/model"
	"alarm-clock/pkg/logger"
)

// AlarmInput holds the user editable fields of an alarm.
type AlarmInput struct {
	Hour      int
	Minute    int
	Days      model.Weekdays
	Vibrate   bool
	SoundRef  string
	Challenge model.ChallengeType
	Label     string
}

func (in *AlarmInput) normalize() error {
	if in.Hour < 0 || in.Hour > 23 {
		return fmt.Errorf("hour %d out of range", in.Hour)
	}
	if in.Minute < 0 || in.Minute > 59 {
		return fmt.Errorf("minute %d out of range", in.Minute)
	}
	if in.Challenge == "" {
		in.Challenge = model.ChallengeNone
	}
	if !in.Challenge.Valid() {
		return fmt.Errorf("unknown challenge %q", in.Challenge)
	}
	in.Label = strings.TrimSpace(in.Label)
	return nil
}

func (in AlarmInput) apply(a *model.Alarm) {
	a.Hour = in.Hour
	a.Minute = in.Minute
	a.SelectedDays = in.Days
	a.Vibrate = in.Vibrate
	a.SoundRef = in.SoundRef
	a.ChallengeType = in.Challenge
	a.Label = in.Label
}

// Silencer ends a ringing or snoozed episode of an alarm.
type Silencer interface {
	Silence(ctx context.Context, alarmID uint)
}

// AlarmService is the alarm mutation API. Changes are persisted first, then the
// triggers are synced from the stored row; scheduling errors come back together with
// the saved alarm.
type AlarmService struct {
	alarms    AlarmStore
	scheduler *AlarmScheduler
	silencer  Silencer
	log       *logger.Logger
}

func NewAlarmService(alarms AlarmStore, scheduler *AlarmScheduler, silencer Silencer, log *logger.Logger) *AlarmService {
	return &AlarmService{alarms: alarms, scheduler: scheduler, silencer: silencer, log: log.Component("alarms")}
}

func (s *AlarmService) CreateAlarm(ctx context.Context, in AlarmInput) (*model.Alarm, error) {
	const op = "create alarm"
	if err := in.normalize(); err != nil {
		return nil, newError(ErrInvalidInput, op, 0, err)
	}

	alarm := model.Alarm{Enabled: true}
	in.apply(&alarm)
	if err := s.alarms.Create(ctx, &alarm); err != nil {
		return nil, storeError(op, 0, err)
	}
	s.log.Info("alarm created", slog.Uint64("alarm", uint64(alarm.ID)), slog.String("time", alarm.Clock()), slog.String("days", alarm.SelectedDays.String()))

	_, err := s.scheduler.Sync(ctx, s.alarms, alarm.ID)
	return &alarm, err
}

func (s *AlarmService) UpdateAlarm(ctx context.Context, id uint, in AlarmInput) (*model.Alarm, error) {
	const op = "update alarm"
	if err := in.normalize(); err != nil {
		return nil, newError(ErrInvalidInput, op, id, err)
	}

	alarm, err := s.alarms.Update(ctx, id, func(a *model.Alarm) (bool, error) {
		in.apply(a)
		return true, nil
	})
	if err != nil {
		return nil, storeError(op, id, err)
	}
	_, err = s.scheduler.Sync(ctx, s.alarms, id)
	return alarm, err
}

func (s *AlarmService) DeleteAlarm(ctx context.Context, id uint) error {
	if err := s.alarms.Delete(ctx, id); err != nil {
		return storeError("delete alarm", id, err)
	}
	if _, err := s.scheduler.Sync(ctx, s.alarms, id); err != nil {
		s.log.Warn("sync deleted alarm", slog.Uint64("alarm", uint64(id)), logger.Err(err))
	}
	s.silence(ctx, id)
	s.log.Info("alarm deleted", slog.Uint64("alarm", uint64(id)))
	return nil
}

// ToggleAlarm enables or disables an alarm. Enabling an already enabled alarm
// schedules it again, which is how a denied schedule gets retried.
func (s *AlarmService) ToggleAlarm(ctx context.Context, id uint, enabled bool) (*model.Alarm, error) {
	alarm, err := s.alarms.Update(ctx, id, func(a *model.Alarm) (bool, error) {
		if a.Enabled == enabled {
			return false, nil
		}
		a.Enabled = enabled
		return true, nil
	})
	if err != nil {
		return nil, storeError("toggle alarm", id, err)
	}

	_, err = s.scheduler.Sync(ctx, s.alarms, id)
	if !enabled {
		s.silence(ctx, id)
	}
	return alarm, err
}

func (s *AlarmService) ListAlarms(ctx context.Context) ([]model.Alarm, error) {
	alarms, err := s.alarms.List(ctx)
	if err != nil {
		return nil, storeError("list alarms", 0, err)
	}
	return alarms, nil
}

func (s *AlarmService) GetAlarm(ctx context.Context, id uint) (*model.Alarm, error) {
	alarm, err := s.alarms.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("get alarm", id, err)
	}
	return alarm, nil
}

// NextFire is when the alarm would ring next if it is enabled.
func (s *AlarmService) NextFire(alarm model.Alarm) time.Time {
	return s.scheduler.NextFire(alarm)
}

func (s *AlarmService) silence(ctx context.Context, id uint) {
	if s.silencer != nil {
		s.silencer.Silence(ctx, id)
	}
}
