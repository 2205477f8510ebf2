package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateIntent(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, err
	}
	return intent, nil
}

func (r *repository) FindIntentByReference(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindIntentByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) UpdateIntentFields(ctx context.Context, intentID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ?", intentID).
		Updates(updates).Error
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.PaymentLedgerEntry) (*models.PaymentLedgerEntry, error) {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *repository) FindEntryByReference(ctx context.Context, reference string) (*models.PaymentLedgerEntry, error) {
	var entry models.PaymentLedgerEntry
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) UpdateEntryFields(ctx context.Context, entryID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentLedgerEntry{}).
		Where("id = ?", entryID).
		Updates(updates).Error
}

func (r *repository) FindPendingOrdersByAmount(ctx context.Context, amount decimal.Decimal, placedAfter time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ?", enums.PaymentStatusPending).
		Where("total_amount = ?", amount).
		Where("placed_at >= ?", placedAfter).
		Order("placed_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) MarkStaleProcessingFailed(ctx context.Context, cutoff, archivedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentLedgerEntry{}).
		Where("status = ? AND created_at < ?", enums.LedgerEntryStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":      enums.LedgerEntryStatusFailed,
			"archived_at": archivedAt,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CountStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentLedgerEntry{}).
		Where("status = ? AND created_at < ?", enums.LedgerEntryStatusProcessing, cutoff).
		Count(&count).Error
	return count, err
}
