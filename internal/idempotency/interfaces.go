package idempotency

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
)

// Repository defines persistence operations for idempotency entries. The
// unique key index ux_idempotency_entries_key arbitrates Insert for keys
// that carry no order lease.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.IdempotencyEntry) (*models.IdempotencyEntry, error)
	FindByKey(ctx context.Context, key string) (*models.IdempotencyEntry, error)
	Update(ctx context.Context, entry *models.IdempotencyEntry) error
	DeleteExpiredByKey(ctx context.Context, key string, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	MarkStaleProcessingFailed(ctx context.Context, cutoff time.Time) (int64, error)
}
