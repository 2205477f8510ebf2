package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
)

// Repository defines persistence operations for the dispatch queue. Insert
// is arbitrated by two unique indexes: ux_notification_events_dedupe on the
// entropy-bearing dedupe key and ux_notification_events_trigger on
// (order_id, event_type, trigger_key).
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.NotificationEvent) (*models.NotificationEvent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.NotificationEvent, error)
	FindByTrigger(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, triggerKey string) (*models.NotificationEvent, error)
	FindLatestByTarget(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, templateKey, recipient string) (*models.NotificationEvent, error)
	RequeueFailed(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, templateKey, recipient string) (int64, error)
	ClaimQueued(ctx context.Context, limit int, now time.Time) ([]models.NotificationEvent, error)
	Update(ctx context.Context, event *models.NotificationEvent) error
	RequeueStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	CountStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
