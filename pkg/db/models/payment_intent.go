package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veloracommerce/paycore/pkg/enums"
)

// PaymentIntent tracks payment progress for an order. The reference stays
// null until the provider allocates one; once set it is unique and carries
// the canonical txn_ format.
type PaymentIntent struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	Amount    decimal.Decimal   `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency  string            `gorm:"column:currency;not null;default:'USD'"`
	Reference *string           `gorm:"column:reference;uniqueIndex:ux_payment_intents_reference"`
	State     enums.IntentState `gorm:"column:state;type:intent_state;not null;default:'requires_payment'"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
