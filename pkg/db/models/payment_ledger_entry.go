package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veloracommerce/paycore/pkg/enums"
)

// PaymentLedgerEntry is the append-only record of one verification attempt.
// Exactly one row may exist per external reference; concurrent writers are
// arbitrated by the uniqueness constraint, never by a read-then-write.
// OrderID and IntentID stay null on orphaned rows so a money-adjacent event
// is kept even when no order resolves.
type PaymentLedgerEntry struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reference       string                  `gorm:"column:reference;not null;uniqueIndex:ux_payment_ledger_entries_reference"`
	IntentID        *uuid.UUID              `gorm:"column:intent_id;type:uuid"`
	OrderID         *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	Amount          decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string                  `gorm:"column:currency;not null;default:'USD'"`
	Status          enums.LedgerEntryStatus `gorm:"column:status;type:ledger_entry_status;not null;default:'processing'"`
	ProviderPayload json.RawMessage         `gorm:"column:provider_payload;type:jsonb"`
	ArchivedAt      *time.Time              `gorm:"column:archived_at"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
}
