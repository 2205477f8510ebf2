package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
)

// Repository defines persistence operations for payment intents and the
// append-only ledger. InsertEntry is arbitrated by the unique reference
// index ux_payment_ledger_entries_reference; first commit wins.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateIntent(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error)
	FindIntentByReference(ctx context.Context, reference string) (*models.PaymentIntent, error)
	FindIntentByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error)
	UpdateIntentFields(ctx context.Context, intentID uuid.UUID, updates map[string]any) error
	InsertEntry(ctx context.Context, entry *models.PaymentLedgerEntry) (*models.PaymentLedgerEntry, error)
	FindEntryByReference(ctx context.Context, reference string) (*models.PaymentLedgerEntry, error)
	UpdateEntryFields(ctx context.Context, entryID uuid.UUID, updates map[string]any) error
	FindPendingOrdersByAmount(ctx context.Context, amount decimal.Decimal, placedAfter time.Time) ([]models.Order, error)
	MarkStaleProcessingFailed(ctx context.Context, cutoff, archivedAt time.Time) (int64, error)
	CountStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}
