package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veloracommerce/paycore/pkg/enums"
)

// IdempotencyEntry caches one request/response pair under a caller-supplied
// key. Rows live for a rolling window and are purged by the sweep; a
// processing row older than the staleness threshold is treated as abandoned.
type IdempotencyEntry struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Key              string                  `gorm:"column:key;not null;uniqueIndex:ux_idempotency_entries_key"`
	OrderID          *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	RequestSnapshot  json.RawMessage         `gorm:"column:request_snapshot;type:jsonb"`
	ResponseSnapshot json.RawMessage         `gorm:"column:response_snapshot;type:jsonb"`
	Status           enums.IdempotencyStatus `gorm:"column:status;type:idempotency_status;not null;default:'processing'"`
	ExpiresAt        time.Time               `gorm:"column:expires_at;not null;index"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
