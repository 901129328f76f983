package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"alarm-clock/internal/config"
	"alarm-clock/internal/repository"
	"alarm-clock/internal/service"
	"alarm-clock/pkg/logger"
)

// engine is the wired set of services shared by the commands.
type engine struct {
	cfg config.Config
	loc *time.Location
	log *logger.Logger
	db  *gorm.DB

	host       *service.SchedulerService
	bus        *service.Bus
	alarms     *service.AlarmService
	timers     *service.TimerService
	dispatcher *service.Dispatcher
	restore    *service.RestoreService
	supervisor *service.Supervisor
}

func buildEngine(ctx context.Context, cfg config.Config, log *logger.Logger, notifier service.Notifier) (*engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := repository.NewDB(cfg.Database.URL, log.Component("gorm"))
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	alarmRepo := repository.NewAlarmRepository(db)
	timerRepo := repository.NewTimerRepository(db)

	host := service.NewSchedulerService(loc)
	host.SetExactAllowed(cfg.Scheduler.ExactAllowed)

	bus := service.NewBus(64)
	host.SetHandler(bus.TriggerHandler(ctx))

	sessions := service.NewSessions(
		service.LogRinger{Log: log.Component("ringer")},
		notifier,
		service.NewWakeLocks(log),
		cfg.Alarm.WakeLockTimeout,
		log,
	)

	alarmScheduler := service.NewAlarmScheduler(host, loc, log)
	timers := service.NewTimerService(timerRepo, host, sessions, cfg.Timer.Retention, log)
	dispatcher := service.NewDispatcher(alarmRepo, alarmScheduler, sessions, timers, bus, service.DispatcherConfig{
		SnoozeDelay:    cfg.SnoozeDelay(),
		MaxSnoozeCount: cfg.Alarm.MaxSnoozeCount,
	}, log)
	supervisor := service.NewSupervisor(ctx, timers, notifier, cfg.Timer.PollInterval, log)
	timers.OnActivity(supervisor.Ensure)

	return &engine{
		cfg:        cfg,
		loc:        loc,
		log:        log,
		db:         db,
		host:       host,
		bus:        bus,
		alarms:     service.NewAlarmService(alarmRepo, alarmScheduler, dispatcher, log),
		timers:     timers,
		dispatcher: dispatcher,
		restore:    service.NewRestoreService(alarmRepo, alarmScheduler, host, log),
		supervisor: supervisor,
	}, nil
}

// schedulePeriodic registers timer cleanup and the daily restoration retry pass.
func (e *engine) schedulePeriodic(ctx context.Context) error {
	if _, err := e.host.ScheduleInterval(e.cfg.Timer.CleanupInterval, func() {
		jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := e.timers.CleanupTimers(jobCtx); err != nil {
			e.log.Error("cleanup timers", logger.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule timer cleanup: %w", err)
	}

	if e.cfg.Scheduler.RestoreAt == "" {
		return nil
	}
	if _, err := e.host.ScheduleDaily(e.cfg.Scheduler.RestoreAt, func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		report, err := e.restore.Restore(jobCtx)
		if err != nil {
			e.log.Error("daily restore", logger.Err(err))
			return
		}
		e.log.Info("daily restore", slog.Int("scheduled", report.Scheduled), slog.Int("pruned", report.Pruned))
	}); err != nil {
		return fmt.Errorf("schedule daily restore: %w", err)
	}
	return nil
}

func (e *engine) close() {
	e.supervisor.Stop()
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
