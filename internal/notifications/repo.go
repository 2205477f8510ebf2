package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a notifications repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event *models.NotificationEvent) (*models.NotificationEvent, error) {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.NotificationEvent, error) {
	var event models.NotificationEvent
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByTrigger(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, triggerKey string) (*models.NotificationEvent, error) {
	var event models.NotificationEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND event_type = ? AND trigger_key = ?", orderID, eventType, triggerKey).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindLatestByTarget(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, templateKey, recipient string) (*models.NotificationEvent, error) {
	var event models.NotificationEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND event_type = ? AND template_key = ? AND recipient = ?",
			orderID, eventType, templateKey, recipient).
		Order("created_at DESC").
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) RequeueFailed(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, templateKey, recipient string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.NotificationEvent{}).
		Where("order_id = ? AND event_type = ? AND template_key = ? AND recipient = ?",
			orderID, eventType, templateKey, recipient).
		Where("status = ? AND retries_disabled = ?", enums.NotificationStatusFailed, false).
		Updates(map[string]any{
			"status":      enums.NotificationStatusQueued,
			"retry_count": 0,
			"last_error":  nil,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]models.NotificationEvent, error) {
	var claimed []models.NotificationEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch []models.NotificationEvent
		if err := tx.
			Where("status = ?", enums.NotificationStatusQueued).
			Order("created_at ASC").
			Limit(limit).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(batch))
		for _, event := range batch {
			ids = append(ids, event.ID)
		}
		if err := tx.
			Model(&models.NotificationEvent{}).
			Where("id IN ? AND status = ?", ids, enums.NotificationStatusQueued).
			Updates(map[string]any{
				"status":     enums.NotificationStatusProcessing,
				"claimed_at": now,
			}).Error; err != nil {
			return err
		}
		for i := range batch {
			batch[i].Status = enums.NotificationStatusProcessing
			claimedAt := now
			batch[i].ClaimedAt = &claimedAt
		}
		claimed = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repository) Update(ctx context.Context, event *models.NotificationEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *repository) RequeueStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.NotificationEvent{}).
		Where("status = ? AND claimed_at < ?", enums.NotificationStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     enums.NotificationStatusQueued,
			"claimed_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CountStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.NotificationEvent{}).
		Where("status = ? AND claimed_at < ?", enums.NotificationStatusProcessing, cutoff).
		Count(&count).Error
	return count, err
}

func (r *repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]enums.NotificationStatus{enums.NotificationStatusSent, enums.NotificationStatusFailed},
			cutoff).
		Delete(&models.NotificationEvent{})
	return res.RowsAffected, res.Error
}
