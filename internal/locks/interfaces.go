package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
)

// Repository defines persistence operations for order lease rows. The
// partial unique index ux_order_locks_open arbitrates Insert; everything
// else is bookkeeping.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, lock *models.OrderLock) (*models.OrderLock, error)
	FindOpen(ctx context.Context, orderID uuid.UUID) (*models.OrderLock, error)
	RetireExpired(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error)
	RetireAllExpired(ctx context.Context, now time.Time) (int64, error)
	ReleaseByHolder(ctx context.Context, orderID uuid.UUID, holder string, now time.Time) (int64, error)
	DeleteReleasedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountOpen(ctx context.Context) (int64, error)
}
