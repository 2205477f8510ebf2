package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/internal/audit"
	"github.com/veloracommerce/paycore/internal/locks"
	"github.com/veloracommerce/paycore/internal/notifications"
	"github.com/veloracommerce/paycore/internal/orders"
	"github.com/veloracommerce/paycore/pkg/db"
	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
	pkgerrors "github.com/veloracommerce/paycore/pkg/errors"
	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/refgen"
	"github.com/veloracommerce/paycore/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

var entryReferenceMarkers = []string{
	"ux_payment_ledger_entries_reference",
	"payment_ledger_entries.reference",
}

// providerPaymentStatus is the closed set of callback statuses and the
// payment status each one drives the order toward.
var providerPaymentStatus = map[string]enums.PaymentStatus{
	"succeeded": enums.PaymentStatusPaid,
	"partial":   enums.PaymentStatusPartial,
	"failed":    enums.PaymentStatusFailed,
	"abandoned": enums.PaymentStatusAbandoned,
}

var intentStateByPayment = map[enums.PaymentStatus]enums.IntentState{
	enums.PaymentStatusPaid:      enums.IntentStateSucceeded,
	enums.PaymentStatusPartial:   enums.IntentStateProcessing,
	enums.PaymentStatusFailed:    enums.IntentStateFailed,
	enums.PaymentStatusAbandoned: enums.IntentStateAbandoned,
}

// VerifyInput is one provider callback. Amount is mandatory for settling
// statuses; Payload is stored raw for audit.
type VerifyInput struct {
	Reference      string           `json:"reference" validate:"required"`
	ProviderStatus string           `json:"provider_status" validate:"required"`
	Amount         *decimal.Decimal `json:"amount"`
	Currency       string           `json:"currency" validate:"omitempty,len=3"`
	Payload        any              `json:"payload"`
	Actor          string           `json:"actor" validate:"required"`
}

// VerifyResult reports the order state after verification. Duplicate true
// means the reference was already processed and this call had no effect.
type VerifyResult struct {
	OrderID       uuid.UUID
	Reference     string
	PaymentStatus enums.PaymentStatus
	OrderStatus   enums.OrderStatus
	Duplicate     bool
}

// Service verifies provider callbacks against the ledger and drives the
// order state machine.
type Service interface {
	VerifyAndApply(ctx context.Context, input VerifyInput) (*VerifyResult, error)
}

type service struct {
	repo            Repository
	orders          orders.Repository
	tx              txRunner
	locks           locks.Service
	audit           audit.Service
	notifications   notifications.Service
	logg            *logger.Logger
	amountTolerance decimal.Decimal
	heuristicWindow time.Duration
	now             func() time.Time
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	Repo            Repository
	Orders          orders.Repository
	Tx              txRunner
	Locks           locks.Service
	Audit           audit.Service
	Notifications   notifications.Service
	Logger          *logger.Logger
	AmountTolerance decimal.Decimal
	HeuristicWindow time.Duration
	Now             func() time.Time
}

// NewService builds a ledger service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock service required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.AmountTolerance.IsNegative() {
		return nil, fmt.Errorf("amount tolerance must not be negative")
	}
	if params.HeuristicWindow <= 0 {
		return nil, fmt.Errorf("heuristic window must be positive")
	}
	nowFn := params.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &service{
		repo:            params.Repo,
		orders:          params.Orders,
		tx:              params.Tx,
		locks:           params.Locks,
		audit:           params.Audit,
		notifications:   params.Notifications,
		logg:            params.Logger,
		amountTolerance: params.AmountTolerance,
		heuristicWindow: params.HeuristicWindow,
		now:             nowFn,
	}, nil
}

func (s *service) VerifyAndApply(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	target, ok := providerPaymentStatus[input.ProviderStatus]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("unknown provider status %q", input.ProviderStatus))
	}
	if input.Amount == nil && (target == enums.PaymentStatusPaid || target == enums.PaymentStatusPartial) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount required for settling status")
	}

	reference := refgen.Canonicalize(input.Reference)
	ctx = s.logg.WithActor(s.logg.WithReference(ctx, reference), input.Actor)

	// Fast path: the reference has already been processed.
	if existing, err := s.repo.FindEntryByReference(ctx, reference); err == nil {
		return s.duplicateResult(ctx, existing)
	} else if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}

	order, intent, err := s.resolveOrder(ctx, reference, input)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, s.persistOrphan(ctx, reference, input)
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	lease, err := s.locks.Acquire(ctx, order.ID, input.Actor, 0)
	if err != nil {
		return nil, err
	}
	if !lease.Acquired {
		return nil, pkgerrors.New(pkgerrors.CodeContention, "order is locked by another operation").
			WithDetails(map[string]any{
				"holder":    lease.Holder,
				"remaining": lease.Remaining.String(),
			})
	}
	defer func() {
		if relErr := s.locks.Release(ctx, order.ID, input.Actor); relErr != nil {
			s.logg.Error(ctx, "release verification lease", relErr)
		}
	}()

	return s.applyLocked(ctx, reference, input, target, order, intent)
}

// applyLocked runs the transactional part of verification while holding the
// order lease. Mismatch and refused-transition outcomes COMMIT the annotated
// ledger row and surface the error after the transaction.
func (s *service) applyLocked(
	ctx context.Context,
	reference string,
	input VerifyInput,
	target enums.PaymentStatus,
	order *models.Order,
	intent *models.PaymentIntent,
) (*VerifyResult, error) {
	claimed := order.TotalAmount
	if input.Amount != nil {
		claimed = *input.Amount
	}
	currency := input.Currency
	if currency == "" {
		currency = order.Currency
	}
	payload, err := marshalPayload(input.Payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal provider payload")
	}

	var (
		duplicate  bool
		abortErr   *pkgerrors.Error
		settled    bool
		finalOrder = order
	)
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)

		entry := &models.PaymentLedgerEntry{
			Reference:       reference,
			OrderID:         &order.ID,
			Amount:          claimed,
			Currency:        currency,
			Status:          enums.LedgerEntryStatusProcessing,
			ProviderPayload: payload,
		}
		if _, insErr := repo.InsertEntry(ctx, entry); insErr != nil {
			if db.IsUniqueViolation(insErr, entryReferenceMarkers...) {
				// Another writer committed this reference first.
				duplicate = true
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, insErr, "insert ledger entry")
		}

		resolvedIntent, intentErr := s.ensureIntent(ctx, repo, order, intent, reference, target)
		if intentErr != nil {
			return intentErr
		}
		if resolvedIntent != nil {
			entry.IntentID = &resolvedIntent.ID
			if updErr := repo.UpdateEntryFields(ctx, entry.ID, map[string]any{"intent_id": resolvedIntent.ID}); updErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, updErr, "link ledger entry to intent")
			}
		}

		if target == enums.PaymentStatusPaid {
			diff := claimed.Sub(order.TotalAmount).Abs()
			if diff.GreaterThan(s.amountTolerance) {
				if updErr := repo.UpdateEntryFields(ctx, entry.ID, map[string]any{
					"status": enums.LedgerEntryStatusMismatch,
				}); updErr != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, updErr, "mark entry mismatch")
				}
				auditErr := s.audit.Record(ctx, tx, audit.Entry{
					Kind:      enums.AuditKindAmountMismatch,
					Severity:  enums.AuditSeverityCritical,
					OrderID:   &order.ID,
					Actor:     input.Actor,
					Reference: &reference,
					Detail: map[string]string{
						"expected": order.TotalAmount.String(),
						"received": claimed.String(),
					},
				})
				if auditErr != nil {
					return auditErr
				}
				// Commit the annotated row; the transition never happens.
				abortErr = pkgerrors.New(pkgerrors.CodeIntegrityViolation, "claimed amount does not match order total")
				return nil
			}
		}

		if order.PaymentStatus != target && !enums.CanTransitionPaymentStatus(order.PaymentStatus, target) {
			if updErr := repo.UpdateEntryFields(ctx, entry.ID, map[string]any{
				"status": enums.LedgerEntryStatusFailed,
			}); updErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, updErr, "mark entry failed")
			}
			abortErr = pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("payment status %s cannot move to %s", order.PaymentStatus, target))
			return nil
		}

		updates := map[string]any{}
		if order.PaymentStatus != target {
			updates["payment_status"] = target
		}
		confirmedAt := s.now()
		promote := target == enums.PaymentStatusPaid && enums.CanConfirmFrom(order.Status)
		if promote {
			updates["status"] = enums.OrderStatusConfirmed
			updates["confirmed_at"] = confirmedAt
		}
		if len(updates) > 0 {
			if updErr := ordersRepo.UpdateFields(ctx, order.ID, updates); updErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, updErr, "apply order transition")
			}
			auditErr := s.audit.Record(ctx, tx, audit.Entry{
				Kind:      enums.AuditKindStateChange,
				OrderID:   &order.ID,
				Actor:     input.Actor,
				Reference: &reference,
				Detail: map[string]string{
					"field": "payment_status",
					"from":  order.PaymentStatus.String(),
					"to":    target.String(),
				},
			})
			if auditErr != nil {
				return auditErr
			}
		}

		if updErr := repo.UpdateEntryFields(ctx, entry.ID, map[string]any{
			"status": enums.LedgerEntryStatusApplied,
		}); updErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, updErr, "mark entry applied")
		}

		next := *order
		next.PaymentStatus = target
		if promote {
			next.Status = enums.OrderStatusConfirmed
			next.ConfirmedAt = &confirmedAt
		}
		finalOrder = &next
		settled = true
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if abortErr != nil {
		return nil, abortErr
	}
	if duplicate {
		existing, findErr := s.repo.FindEntryByReference(ctx, reference)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load winning entry")
		}
		return s.duplicateResult(ctx, existing)
	}

	if settled {
		s.enqueueOutcome(ctx, finalOrder, reference, target)
	}
	return &VerifyResult{
		OrderID:       finalOrder.ID,
		Reference:     reference,
		PaymentStatus: finalOrder.PaymentStatus,
		OrderStatus:   finalOrder.Status,
	}, nil
}

// resolveOrder maps a canonical reference to an order: intent lookup first,
// then the best-effort amount+recency heuristic. A nil order with nil error
// means unresolved.
func (s *service) resolveOrder(ctx context.Context, reference string, input VerifyInput) (*models.Order, *models.PaymentIntent, error) {
	intent, err := s.repo.FindIntentByReference(ctx, reference)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
	}
	if intent != nil {
		order, findErr := s.orders.FindByID(ctx, intent.OrderID)
		if findErr != nil {
			if findErr == gorm.ErrRecordNotFound {
				return nil, nil, nil
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load order")
		}
		return order, intent, nil
	}

	if input.Amount == nil {
		return nil, nil, nil
	}
	candidates, err := s.repo.FindPendingOrdersByAmount(ctx, *input.Amount, s.now().Add(-s.heuristicWindow))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "heuristic order lookup")
	}
	switch len(candidates) {
	case 0:
		return nil, nil, nil
	case 1:
		order := candidates[0]
		s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "order matched by amount heuristic")
		auditErr := s.audit.Record(ctx, nil, audit.Entry{
			Kind:      enums.AuditKindHeuristicMatch,
			OrderID:   &order.ID,
			Actor:     input.Actor,
			Reference: &reference,
			Detail: map[string]string{
				"amount": input.Amount.String(),
			},
		})
		if auditErr != nil {
			return nil, nil, auditErr
		}
		return &order, nil, nil
	default:
		s.logg.Warn(s.logg.WithField(ctx, "candidates", len(candidates)), "ambiguous heuristic match refused")
		return nil, nil, nil
	}
}

// persistOrphan keeps the money-adjacent event even though no order
// resolves, then reports not-found.
func (s *service) persistOrphan(ctx context.Context, reference string, input VerifyInput) error {
	amount := decimal.Zero
	if input.Amount != nil {
		amount = *input.Amount
	}
	currency := input.Currency
	if currency == "" {
		currency = "USD"
	}
	payload, err := marshalPayload(input.Payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal provider payload")
	}
	entry := &models.PaymentLedgerEntry{
		Reference:       reference,
		Amount:          amount,
		Currency:        currency,
		Status:          enums.LedgerEntryStatusOrphaned,
		ProviderPayload: payload,
	}
	if _, insErr := s.repo.InsertEntry(ctx, entry); insErr != nil &&
		!db.IsUniqueViolation(insErr, entryReferenceMarkers...) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, insErr, "persist orphan entry")
	}
	s.logg.Warn(ctx, "callback reference resolves to no order")
	return pkgerrors.New(pkgerrors.CodeNotFound, "no order resolves for reference").
		WithDetails(map[string]string{"reference": reference})
}

// ensureIntent links the verification to a payment intent, creating one
// lazily when the order has none, and moves its state along.
func (s *service) ensureIntent(
	ctx context.Context,
	repo Repository,
	order *models.Order,
	resolved *models.PaymentIntent,
	reference string,
	target enums.PaymentStatus,
) (*models.PaymentIntent, error) {
	state := intentStateByPayment[target]
	intent := resolved
	if intent == nil {
		existing, err := repo.FindIntentByOrder(ctx, order.ID)
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order intent")
		}
		intent = existing
	}
	if intent == nil {
		fresh := &models.PaymentIntent{
			OrderID:   order.ID,
			Amount:    order.TotalAmount,
			Currency:  order.Currency,
			Reference: &reference,
			State:     state,
		}
		if _, err := repo.CreateIntent(ctx, fresh); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create intent")
		}
		return fresh, nil
	}

	updates := map[string]any{"state": state}
	if intent.Reference == nil {
		updates["reference"] = reference
	}
	if err := repo.UpdateIntentFields(ctx, intent.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update intent")
	}
	intent.State = state
	if intent.Reference == nil {
		intent.Reference = &reference
	}
	return intent, nil
}

func (s *service) duplicateResult(ctx context.Context, entry *models.PaymentLedgerEntry) (*VerifyResult, error) {
	result := &VerifyResult{
		Reference: entry.Reference,
		Duplicate: true,
	}
	if entry.OrderID == nil {
		// Orphan replay: still nothing to apply it to.
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order resolves for reference").
			WithDetails(map[string]string{"reference": entry.Reference})
	}
	order, err := s.orders.FindByID(ctx, *entry.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for duplicate")
	}
	result.OrderID = order.ID
	result.PaymentStatus = order.PaymentStatus
	result.OrderStatus = order.Status
	s.logg.Info(ctx, "duplicate reference replay")
	return result, nil
}

// enqueueOutcome is post-commit and best-effort: delivery problems never
// unwind an applied transition.
func (s *service) enqueueOutcome(ctx context.Context, order *models.Order, reference string, target enums.PaymentStatus) {
	var eventType enums.NotificationEventType
	var templateKey string
	switch target {
	case enums.PaymentStatusPaid:
		eventType = enums.NotificationEventPaymentConfirmed
		templateKey = "payment-confirmed"
	case enums.PaymentStatusFailed, enums.PaymentStatusAbandoned:
		eventType = enums.NotificationEventPaymentFailed
		templateKey = "payment-failed"
	default:
		return
	}
	_, err := s.notifications.Enqueue(ctx, notifications.EnqueueInput{
		OrderID:     order.ID,
		EventType:   eventType,
		Recipient:   order.CustomerEmail,
		TemplateKey: templateKey,
		TriggerKey:  reference,
		Variables: map[string]string{
			"order_number": order.OrderNumber,
			"reference":    reference,
		},
	})
	if err != nil {
		s.logg.Error(ctx, "enqueue payment notification", err)
	}
}

func marshalPayload(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}
