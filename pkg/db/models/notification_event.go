package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veloracommerce/paycore/pkg/enums"
)

// NotificationEvent is one queued outbound message. The dedupe key carries
// fresh entropy so legitimate resubmissions after failure can create new
// rows; the (order, event type, trigger key) constraint is what stops one
// logical trigger from producing two rows.
type NotificationEvent struct {
	ID              uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DedupeKey       string                      `gorm:"column:dedupe_key;not null;uniqueIndex:ux_notification_events_dedupe"`
	TriggerKey      string                      `gorm:"column:trigger_key;not null;uniqueIndex:ux_notification_events_trigger,priority:3"`
	OrderID         uuid.UUID                   `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_notification_events_trigger,priority:1"`
	EventType       enums.NotificationEventType `gorm:"column:event_type;type:notification_event_type;not null;uniqueIndex:ux_notification_events_trigger,priority:2"`
	Recipient       string                      `gorm:"column:recipient;not null"`
	TemplateKey     string                      `gorm:"column:template_key;not null"`
	Variables       json.RawMessage             `gorm:"column:variables;type:jsonb"`
	Status          enums.NotificationStatus    `gorm:"column:status;type:notification_status;not null;default:'queued'"`
	RetryCount      int                         `gorm:"column:retry_count;not null;default:0"`
	RetriesDisabled bool                        `gorm:"column:retries_disabled;not null;default:false"`
	LastError       *string                     `gorm:"column:last_error"`
	ClaimedAt       *time.Time                  `gorm:"column:claimed_at"`
	SentAt          *time.Time                  `gorm:"column:sent_at"`
	CreatedAt       time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}
