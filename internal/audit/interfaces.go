package audit

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
)

// Repository defines persistence operations for the append-only audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.AuditEvent, error)
}
