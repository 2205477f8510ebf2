package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db"
	"github.com/veloracommerce/paycore/pkg/db/models"
	pkgerrors "github.com/veloracommerce/paycore/pkg/errors"
	"github.com/veloracommerce/paycore/pkg/logger"
)

// openLeaseMarkers identify a violation of the one-open-lease-per-order
// constraint across postgres and the sqlite test driver.
var openLeaseMarkers = []string{"ux_order_locks_open", "order_locks.order_id"}

// acquireAttempts bounds the insert retry when the blocking lease is
// released between the unique violation and the follow-up read.
const acquireAttempts = 2

// AcquireResult reports the outcome of an acquire attempt. Contention is a
// result, not an error: Acquired false carries the current holder and how
// long its lease has left.
type AcquireResult struct {
	Acquired  bool
	Holder    string
	ExpiresAt time.Time
	Remaining time.Duration
}

// Service coordinates time-bounded exclusive leases on orders.
type Service interface {
	Acquire(ctx context.Context, orderID uuid.UUID, holder string, ttl time.Duration) (AcquireResult, error)
	Release(ctx context.Context, orderID uuid.UUID, holder string) error
	IsHolder(ctx context.Context, orderID uuid.UUID, holder string) (bool, error)
}

type service struct {
	repo       Repository
	logg       *logger.Logger
	defaultTTL time.Duration
	now        func() time.Time
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	Repo       Repository
	Logger     *logger.Logger
	DefaultTTL time.Duration
	Now        func() time.Time
}

// NewService builds a lock service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("locks repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DefaultTTL <= 0 {
		return nil, fmt.Errorf("default lease ttl must be positive")
	}
	nowFn := params.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &service{
		repo:       params.Repo,
		logg:       params.Logger,
		defaultTTL: params.DefaultTTL,
		now:        nowFn,
	}, nil
}

func (s *service) Acquire(ctx context.Context, orderID uuid.UUID, holder string, ttl time.Duration) (AcquireResult, error) {
	if orderID == uuid.Nil {
		return AcquireResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if holder == "" {
		return AcquireResult{}, pkgerrors.New(pkgerrors.CodeValidation, "lock holder required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	ctx = s.logg.WithHolder(s.logg.WithOrderID(ctx, orderID.String()), holder)

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		now := s.now()
		if _, err := s.repo.RetireExpired(ctx, orderID, now); err != nil {
			return AcquireResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retire expired lease")
		}

		lock := &models.OrderLock{
			OrderID:    orderID,
			Holder:     holder,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		_, err := s.repo.Insert(ctx, lock)
		if err == nil {
			return AcquireResult{
				Acquired:  true,
				Holder:    holder,
				ExpiresAt: lock.ExpiresAt,
				Remaining: ttl,
			}, nil
		}
		if !db.IsUniqueViolation(err, openLeaseMarkers...) {
			return AcquireResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert lease")
		}

		current, findErr := s.repo.FindOpen(ctx, orderID)
		if findErr != nil {
			if findErr == gorm.ErrRecordNotFound {
				// The blocking lease vanished between the violation and the
				// read; try the insert once more.
				continue
			}
			return AcquireResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load open lease")
		}
		s.logg.Info(s.logg.WithField(ctx, "held_by", current.Holder), "lease contention")
		return AcquireResult{
			Acquired:  false,
			Holder:    current.Holder,
			ExpiresAt: current.ExpiresAt,
			Remaining: current.Remaining(s.now()),
		}, nil
	}
	return AcquireResult{}, pkgerrors.New(pkgerrors.CodeContention, "lease state is churning, retry")
}

func (s *service) Release(ctx context.Context, orderID uuid.UUID, holder string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if holder == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "lock holder required")
	}
	affected, err := s.repo.ReleaseByHolder(ctx, orderID, holder, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release lease")
	}
	if affected == 0 {
		ctx = s.logg.WithHolder(s.logg.WithOrderID(ctx, orderID.String()), holder)
		s.logg.Info(ctx, "release without matching open lease")
	}
	return nil
}

func (s *service) IsHolder(ctx context.Context, orderID uuid.UUID, holder string) (bool, error) {
	if orderID == uuid.Nil || holder == "" {
		return false, nil
	}
	lock, err := s.repo.FindOpen(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open lease")
	}
	return lock.Holder == holder && lock.Open(s.now()), nil
}
