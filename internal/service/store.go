package service

import (
	"context"

	"alarm-clock/internal/model"
)

// AlarmStore is the durable alarm table. Update must apply fn as one atomic
// read-modify-write, serialized per id; fn returning false skips the write.
type AlarmStore interface {
	Create(ctx context.Context, alarm *model.Alarm) error
	FindByID(ctx context.Context, id uint) (*model.Alarm, error)
	List(ctx context.Context) ([]model.Alarm, error)
	ListEnabled(ctx context.Context) ([]model.Alarm, error)
	Update(ctx context.Context, id uint, fn func(*model.Alarm) (bool, error)) (*model.Alarm, error)
	Delete(ctx context.Context, id uint) error
}

// TimerStore is the durable timer table, with the same Update contract as AlarmStore.
type TimerStore interface {
	Create(ctx context.Context, timer *model.Timer) error
	FindByID(ctx context.Context, id uint) (*model.Timer, error)
	List(ctx context.Context) ([]model.Timer, error)
	ListRunning(ctx context.Context) ([]model.Timer, error)
	Update(ctx context.Context, id uint, fn func(*model.Timer) (bool, error)) (*model.Timer, error)
	Delete(ctx context.Context, id uint) error
	DeleteEndedBefore(ctx context.Context, cutoffMs int64) (int64, error)
}
