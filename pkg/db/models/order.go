package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veloracommerce/paycore/pkg/enums"
)

// Order is the root aggregate every lease, ledger entry and notification
// keys off. Both status columns only ever move forward along the central
// transition tables.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber      string              `gorm:"column:order_number;not null;uniqueIndex:ux_orders_number"`
	Status           enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus    enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	TotalAmount      decimal.Decimal     `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency         string              `gorm:"column:currency;not null;default:'USD'"`
	CustomerID       uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	CustomerEmail    string              `gorm:"column:customer_email;not null;default:''"`
	PlacedAt         time.Time           `gorm:"column:placed_at;not null"`
	ConfirmedAt      *time.Time          `gorm:"column:confirmed_at"`
	ReviewRequiredAt *time.Time          `gorm:"column:review_required_at"`
	ReviewReason     *string             `gorm:"column:review_reason"`
	Items            []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderLineItem is supplied by the order-creation collaborator and kept for
// amount audit only; nothing in the payment path mutates it.
type OrderLineItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	Name      string          `gorm:"column:name;not null"`
	Qty       int             `gorm:"column:qty;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
