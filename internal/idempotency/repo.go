package idempotency

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an idempotency repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, entry *models.IdempotencyEntry) (*models.IdempotencyEntry, error) {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *repository) FindByKey(ctx context.Context, key string) (*models.IdempotencyEntry, error) {
	var entry models.IdempotencyEntry
	err := r.db.WithContext(ctx).
		Where("key = ?", key).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) Update(ctx context.Context, entry *models.IdempotencyEntry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

func (r *repository) DeleteExpiredByKey(ctx context.Context, key string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("key = ? AND expires_at <= ?", key, now).
		Delete(&models.IdempotencyEntry{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.IdempotencyEntry{})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkStaleProcessingFailed(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.IdempotencyEntry{}).
		Where("status = ? AND updated_at < ?", enums.IdempotencyStatusProcessing, cutoff).
		Update("status", enums.IdempotencyStatusFailed)
	return res.RowsAffected, res.Error
}
