package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"alarm-clock/internal/model"
)

// TimerRepository handles CRUD for countdown timers.
type TimerRepository struct {
	db    *gorm.DB
	locks *keyedMutex
}

func NewTimerRepository(db *gorm.DB) *TimerRepository {
	return &TimerRepository{db: db, locks: newKeyedMutex()}
}

func timerKey(id uint) string {
	return fmt.Sprintf("timer:%d", id)
}

func (r *TimerRepository) Create(ctx context.Context, timer *model.Timer) error {
	if err := r.db.WithContext(ctx).Create(timer).Error; err != nil {
		return fmt.Errorf("create timer: %w", err)
	}
	return nil
}

func (r *TimerRepository) FindByID(ctx context.Context, id uint) (*model.Timer, error) {
	var timer model.Timer
	if err := r.db.WithContext(ctx).First(&timer, id).Error; err != nil {
		return nil, err
	}
	return &timer, nil
}

func (r *TimerRepository) List(ctx context.Context) ([]model.Timer, error) {
	var timers []model.Timer
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&timers).Error; err != nil {
		return nil, err
	}
	return timers, nil
}

func (r *TimerRepository) ListRunning(ctx context.Context) ([]model.Timer, error) {
	var timers []model.Timer
	if err := r.db.WithContext(ctx).Where("is_running = ?", true).Order("id ASC").Find(&timers).Error; err != nil {
		return nil, err
	}
	return timers, nil
}

// Update runs fn on the stored timer inside a transaction while holding the timer's lock.
// When fn reports no change nothing is written.
func (r *TimerRepository) Update(ctx context.Context, id uint, fn func(*model.Timer) (bool, error)) (*model.Timer, error) {
	unlock := r.locks.Lock(timerKey(id))
	defer unlock()

	var timer model.Timer
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&timer, id).Error; err != nil {
			return err
		}
		changed, err := fn(&timer)
		if err != nil || !changed {
			return err
		}
		if err := tx.Save(&timer).Error; err != nil {
			return fmt.Errorf("save timer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &timer, nil
}

// Delete removes a timer. Missing rows yield gorm.ErrRecordNotFound.
func (r *TimerRepository) Delete(ctx context.Context, id uint) error {
	unlock := r.locks.Lock(timerKey(id))
	defer unlock()

	res := r.db.WithContext(ctx).Delete(&model.Timer{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete timer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteEndedBefore removes paused timers that completed before cutoffMs.
func (r *TimerRepository) DeleteEndedBefore(ctx context.Context, cutoffMs int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("is_paused = ? AND ended_at_epoch_ms IS NOT NULL AND ended_at_epoch_ms < ?", true, cutoffMs).
		Delete(&model.Timer{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup timers: %w", res.Error)
	}
	return res.RowsAffected, nil
}
