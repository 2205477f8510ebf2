package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a lock repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, lock *models.OrderLock) (*models.OrderLock, error) {
	if err := r.db.WithContext(ctx).Create(lock).Error; err != nil {
		return nil, err
	}
	return lock, nil
}

func (r *repository) FindOpen(ctx context.Context, orderID uuid.UUID) (*models.OrderLock, error) {
	var lock models.OrderLock
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND released_at IS NULL", orderID).
		First(&lock).Error
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (r *repository) RetireExpired(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderLock{}).
		Where("order_id = ? AND released_at IS NULL AND expires_at <= ?", orderID, now).
		Update("released_at", now)
	return res.RowsAffected, res.Error
}

func (r *repository) RetireAllExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderLock{}).
		Where("released_at IS NULL AND expires_at <= ?", now).
		Update("released_at", now)
	return res.RowsAffected, res.Error
}

func (r *repository) ReleaseByHolder(ctx context.Context, orderID uuid.UUID, holder string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderLock{}).
		Where("order_id = ? AND holder = ? AND released_at IS NULL", orderID, holder).
		Update("released_at", now)
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteReleasedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("released_at IS NOT NULL AND released_at < ?", cutoff).
		Delete(&models.OrderLock{})
	return res.RowsAffected, res.Error
}

func (r *repository) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderLock{}).
		Where("released_at IS NULL").
		Count(&count).Error
	return count, err
}
