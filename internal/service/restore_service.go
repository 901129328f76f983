package service

import (
	"context"
	"errors"
	"log/slog"

	"alarm-clock/pkg/logger"
)

// RestoreReport counts what one restoration pass did.
type RestoreReport struct {
	Scheduled int
	Failed    int
	Pruned    int
}

// RestoreService re-registers triggers for every enabled alarm after a restart. Running
// it again yields the same trigger set. Timers are not restored.
type RestoreService struct {
	alarms    AlarmStore
	scheduler *AlarmScheduler
	host      TriggerScheduler
	log       *logger.Logger
}

func NewRestoreService(alarms AlarmStore, scheduler *AlarmScheduler, host TriggerScheduler, log *logger.Logger) *RestoreService {
	return &RestoreService{alarms: alarms, scheduler: scheduler, host: host, log: log.Component("restore")}
}

// Restore syncs every enabled alarm and drops alarm triggers whose alarm is gone or
// disabled. A PermissionDenied error is returned with the report; per-alarm
// registration failures are only counted.
func (s *RestoreService) Restore(ctx context.Context) (RestoreReport, error) {
	var report RestoreReport

	alarms, err := s.alarms.ListEnabled(ctx)
	if err != nil {
		return report, storeError("restore alarms", 0, err)
	}

	enabled := make(map[uint]struct{}, len(alarms))
	var denied error
	for _, alarm := range alarms {
		enabled[alarm.ID] = struct{}{}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		synced, err := s.scheduler.Sync(ctx, s.alarms, alarm.ID)
		if err != nil {
			report.Failed++
			if errors.Is(err, ErrPermissionDenied) && denied == nil {
				denied = err
			}
			s.log.Warn("restore alarm", slog.Uint64("alarm", uint64(alarm.ID)), logger.Err(err))
			continue
		}
		if synced != nil && synced.Enabled {
			report.Scheduled++
		}
	}

	orphans := make(map[uint]int)
	for key := range s.host.Pending() {
		if key.Kind == TriggerTimer {
			continue
		}
		if _, ok := enabled[key.ID]; ok {
			continue
		}
		orphans[key.ID]++
	}
	for id, keys := range orphans {
		synced, err := s.scheduler.Sync(ctx, s.alarms, id)
		if err != nil {
			s.log.Warn("prune alarm triggers", slog.Uint64("alarm", uint64(id)), logger.Err(err))
			continue
		}
		if synced == nil || !synced.Enabled {
			report.Pruned += keys
		}
	}

	s.log.Info("restore finished",
		slog.Int("scheduled", report.Scheduled),
		slog.Int("failed", report.Failed),
		slog.Int("pruned", report.Pruned),
	)
	return report, denied
}
