package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/internal/audit"
	"github.com/veloracommerce/paycore/internal/locks"
	"github.com/veloracommerce/paycore/internal/notifications"
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

// LineItemInput is one purchased line supplied by the order-creation
// collaborator.
type LineItemInput struct {
	Name      string          `json:"name" validate:"required"`
	Qty       int             `json:"qty" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"required"`
}

// CreateInput carries an order to register.
type CreateInput struct {
	CustomerID    uuid.UUID       `json:"customer_id" validate:"required"`
	CustomerEmail string          `json:"customer_email" validate:"required,email"`
	Currency      string          `json:"currency" validate:"omitempty,len=3"`
	Items         []LineItemInput `json:"items" validate:"required,min=1,dive"`
	PlacedAt      time.Time       `json:"placed_at"`
}

// ChangeStatusInput carries a lease-guarded administrative transition.
type ChangeStatusInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Actor   string
}

// ChangeStatusResult reports the transition outcome. Contention means
// another caller holds the order lease; nothing was changed.
type ChangeStatusResult struct {
	Order      *models.Order
	Contention *locks.AcquireResult
}

// Service owns order registration and the forward-only order state machine.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ChangeStatus(ctx context.Context, input ChangeStatusInput) (ChangeStatusResult, error)
}

type service struct {
	repo          Repository
	tx            txRunner
	locks         locks.Service
	audit         audit.Service
	notifications notifications.Service
	refs          *refgen.Generator
	logg          *logger.Logger
	now           func() time.Time
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	Repo          Repository
	Tx            txRunner
	Locks         locks.Service
	Audit         audit.Service
	Notifications notifications.Service
	Refs          *refgen.Generator
	Logger        *logger.Logger
	Now           func() time.Time
}

// NewService builds an orders service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
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
	if params.Refs == nil {
		return nil, fmt.Errorf("reference generator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	nowFn := params.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &service{
		repo:          params.Repo,
		tx:            params.Tx,
		locks:         params.Locks,
		audit:         params.Audit,
		notifications: params.Notifications,
		refs:          params.Refs,
		logg:          params.Logger,
		now:           nowFn,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	orderNumber, err := s.refs.Generate(refgen.KindOrder)
	if err != nil {
		return nil, err
	}
	currency := input.Currency
	if currency == "" {
		currency = "USD"
	}
	placedAt := input.PlacedAt
	if placedAt.IsZero() {
		placedAt = s.now()
	}

	total := decimal.Zero
	items := make([]models.OrderLineItem, 0, len(input.Items))
	for _, item := range input.Items {
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty)))
		items = append(items, models.OrderLineItem{
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			Total:     lineTotal,
		})
		total = total.Add(lineTotal)
	}

	order := &models.Order{
		OrderNumber:   orderNumber,
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		TotalAmount:   total,
		Currency:      currency,
		CustomerID:    input.CustomerID,
		CustomerEmail: input.CustomerEmail,
		PlacedAt:      placedAt,
		Items:         items,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, createErr := s.repo.WithTx(tx).Create(ctx, order)
		return createErr
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order registered")
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) ChangeStatus(ctx context.Context, input ChangeStatusInput) (ChangeStatusResult, error) {
	if input.OrderID == uuid.Nil {
		return ChangeStatusResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return ChangeStatusResult{}, pkgerrors.New(pkgerrors.CodeValidation, "target status invalid")
	}
	if input.Actor == "" {
		return ChangeStatusResult{}, pkgerrors.New(pkgerrors.CodeValidation, "actor required")
	}
	ctx = s.logg.WithActor(s.logg.WithOrderID(ctx, input.OrderID.String()), input.Actor)

	lease, err := s.locks.Acquire(ctx, input.OrderID, input.Actor, 0)
	if err != nil {
		return ChangeStatusResult{}, err
	}
	if !lease.Acquired {
		return ChangeStatusResult{Contention: &lease}, nil
	}
	defer func() {
		if relErr := s.locks.Release(ctx, input.OrderID, input.Actor); relErr != nil {
			s.logg.Error(ctx, "release status lease", relErr)
		}
	}()

	var (
		updated *models.Order
		changed bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, findErr := repo.FindByID(ctx, input.OrderID)
		if findErr != nil {
			if findErr == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load order")
		}
		if order.Status == input.Target {
			updated = order
			return nil
		}
		if !enums.CanTransitionOrderStatus(order.Status, input.Target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order status %s cannot move to %s", order.Status, input.Target))
		}

		if updErr := repo.UpdateFields(ctx, order.ID, map[string]any{"status": input.Target}); updErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, updErr, "update order status")
		}
		auditErr := s.audit.Record(ctx, tx, audit.Entry{
			Kind:    enums.AuditKindStateChange,
			OrderID: &order.ID,
			Actor:   input.Actor,
			Detail: map[string]string{
				"field": "status",
				"from":  order.Status.String(),
				"to":    input.Target.String(),
			},
		})
		if auditErr != nil {
			return auditErr
		}
		order.Status = input.Target
		updated = order
		changed = true
		return nil
	})
	if err != nil {
		return ChangeStatusResult{}, err
	}
	if !changed {
		return ChangeStatusResult{Order: updated}, nil
	}

	if _, enqErr := s.notifications.Enqueue(ctx, notifications.EnqueueInput{
		OrderID:     updated.ID,
		EventType:   enums.NotificationEventOrderStatusChanged,
		Recipient:   updated.CustomerEmail,
		TemplateKey: "order-status-changed",
		Variables: map[string]string{
			"order_number": updated.OrderNumber,
			"status":       updated.Status.String(),
		},
	}); enqErr != nil {
		s.logg.Error(ctx, "enqueue status notification", enqErr)
	}
	return ChangeStatusResult{Order: updated}, nil
}
