package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"alarm-clock/internal/model"
)

// AlarmRepository handles CRUD for alarms.
type AlarmRepository struct {
	db    *gorm.DB
	locks *keyedMutex
}

func NewAlarmRepository(db *gorm.DB) *AlarmRepository {
	return &AlarmRepository{db: db, locks: newKeyedMutex()}
}

func alarmKey(id uint) string {
	return fmt.Sprintf("alarm:%d", id)
}

func (r *AlarmRepository) Create(ctx context.Context, alarm *model.Alarm) error {
	if err := r.db.WithContext(ctx).Create(alarm).Error; err != nil {
		return fmt.Errorf("create alarm: %w", err)
	}
	return nil
}

func (r *AlarmRepository) FindByID(ctx context.Context, id uint) (*model.Alarm, error) {
	var alarm model.Alarm
	if err := r.db.WithContext(ctx).First(&alarm, id).Error; err != nil {
		return nil, err
	}
	return &alarm, nil
}

func (r *AlarmRepository) List(ctx context.Context) ([]model.Alarm, error) {
	var alarms []model.Alarm
	if err := r.db.WithContext(ctx).Order("hour ASC, minute ASC, id ASC").Find(&alarms).Error; err != nil {
		return nil, err
	}
	return alarms, nil
}

func (r *AlarmRepository) ListEnabled(ctx context.Context) ([]model.Alarm, error) {
	var alarms []model.Alarm
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&alarms).Error; err != nil {
		return nil, err
	}
	return alarms, nil
}

// Update runs fn on the stored alarm inside a transaction while holding the alarm's lock.
// When fn reports no change nothing is written.
func (r *AlarmRepository) Update(ctx context.Context, id uint, fn func(*model.Alarm) (bool, error)) (*model.Alarm, error) {
	unlock := r.locks.Lock(alarmKey(id))
	defer unlock()

	var alarm model.Alarm
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alarm, id).Error; err != nil {
			return err
		}
		changed, err := fn(&alarm)
		if err != nil || !changed {
			return err
		}
		if err := tx.Save(&alarm).Error; err != nil {
			return fmt.Errorf("save alarm: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &alarm, nil
}

// Delete removes an alarm. Missing rows yield gorm.ErrRecordNotFound.
func (r *AlarmRepository) Delete(ctx context.Context, id uint) error {
	unlock := r.locks.Lock(alarmKey(id))
	defer unlock()

	res := r.db.WithContext(ctx).Delete(&model.Alarm{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete alarm: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
