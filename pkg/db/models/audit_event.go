package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veloracommerce/paycore/pkg/enums"
)

// AuditEvent is an append-only trail row. Security-relevant incidents
// (amount mismatches) and lease-bypass audit entries land here; rows are
// never updated or deleted.
type AuditEvent struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Kind      enums.AuditKind     `gorm:"column:kind;type:audit_kind;not null;index"`
	Severity  enums.AuditSeverity `gorm:"column:severity;type:audit_severity;not null;default:'info'"`
	OrderID   *uuid.UUID          `gorm:"column:order_id;type:uuid;index"`
	Actor     string              `gorm:"column:actor;not null"`
	Reference *string             `gorm:"column:reference"`
	Detail    json.RawMessage     `gorm:"column:detail;type:jsonb"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
}
