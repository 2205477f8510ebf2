package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/internal/audit"
	"github.com/veloracommerce/paycore/internal/locks"
	"github.com/veloracommerce/paycore/pkg/db"
	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
	pkgerrors "github.com/veloracommerce/paycore/pkg/errors"
	"github.com/veloracommerce/paycore/pkg/logger"
)

// ExecuteInput carries one request through the cache.
type ExecuteInput struct {
	Key      string
	OrderID  *uuid.UUID
	Holder   string
	Status   enums.IdempotencyStatus
	Request  any
	Response any
}

// Contention reports who holds the order lease when the cache could not
// take it.
type Contention struct {
	Holder    string
	Remaining time.Duration
}

// Outcome is the result of Execute. Cached true means the returned entry
// already existed and the caller must not redo the work.
type Outcome struct {
	Cached     bool
	Entry      *models.IdempotencyEntry
	Contention *Contention
}

// Service is the lock-first idempotency cache: the order lease is the
// primary arbiter and the cached entry is the record, never the other way
// around.
type Service interface {
	Execute(ctx context.Context, input ExecuteInput) (Outcome, error)
}

type service struct {
	repo      Repository
	locks     locks.Service
	audit     audit.Service
	logg      *logger.Logger
	entryTTL  time.Duration
	staleness time.Duration
	now       func() time.Time
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	Repo      Repository
	Locks     locks.Service
	Audit     audit.Service
	Logger    *logger.Logger
	EntryTTL  time.Duration
	Staleness time.Duration
	Now       func() time.Time
}

// NewService builds an idempotency service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("idempotency repository required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock service required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.EntryTTL <= 0 {
		return nil, fmt.Errorf("entry ttl must be positive")
	}
	if params.Staleness <= 0 {
		return nil, fmt.Errorf("staleness threshold must be positive")
	}
	nowFn := params.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &service{
		repo:      params.Repo,
		locks:     params.Locks,
		audit:     params.Audit,
		logg:      params.Logger,
		entryTTL:  params.EntryTTL,
		staleness: params.Staleness,
		now:       nowFn,
	}, nil
}

func (s *service) Execute(ctx context.Context, input ExecuteInput) (Outcome, error) {
	if input.Key == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	if input.Holder == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "holder required")
	}
	if !input.Status.IsValid() {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "idempotency status invalid")
	}
	ctx = s.logg.WithHolder(s.logg.WithField(ctx, "idempotency_key", input.Key), input.Holder)

	if input.OrderID == nil {
		return s.executeUnkeyed(ctx, input)
	}

	held, err := s.locks.IsHolder(ctx, *input.OrderID, input.Holder)
	if err != nil {
		return Outcome{}, err
	}
	if held {
		return s.bypass(ctx, input)
	}

	lease, err := s.locks.Acquire(ctx, *input.OrderID, input.Holder, 0)
	if err != nil {
		return Outcome{}, err
	}
	if !lease.Acquired {
		return Outcome{Contention: &Contention{
			Holder:    lease.Holder,
			Remaining: lease.Remaining,
		}}, nil
	}
	defer func() {
		if relErr := s.locks.Release(ctx, *input.OrderID, input.Holder); relErr != nil {
			s.logg.Error(ctx, "release idempotency lease", relErr)
		}
	}()

	return s.executeHeld(ctx, input)
}

// bypass records the lease shortcut and refreshes the entry without touching
// the lock; the caller already owns the order.
func (s *service) bypass(ctx context.Context, input ExecuteInput) (Outcome, error) {
	err := s.audit.Record(ctx, nil, audit.Entry{
		Kind:    enums.AuditKindLockBypass,
		OrderID: input.OrderID,
		Actor:   input.Holder,
		Detail:  map[string]string{"idempotency_key": input.Key},
	})
	if err != nil {
		return Outcome{}, err
	}
	s.logg.Info(ctx, "cache bypassed by lease holder")

	entry, err := s.upsert(ctx, input)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Entry: entry}, nil
}

// executeHeld runs the cache steps while holding the order lease.
func (s *service) executeHeld(ctx context.Context, input ExecuteInput) (Outcome, error) {
	now := s.now()
	if _, err := s.repo.DeleteExpiredByKey(ctx, input.Key, now); err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge expired entry")
	}

	existing, err := s.repo.FindByKey(ctx, input.Key)
	if err != nil && err != gorm.ErrRecordNotFound {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cache entry")
	}
	if existing != nil {
		if existing.Status == enums.IdempotencyStatusSuccess {
			return Outcome{Cached: true, Entry: existing}, nil
		}
		if existing.Status == enums.IdempotencyStatusProcessing &&
			now.Sub(existing.UpdatedAt) < s.staleness {
			// Someone's attempt is still in flight; hand its record back.
			return Outcome{Cached: true, Entry: existing}, nil
		}
		if existing.Status == enums.IdempotencyStatusProcessing {
			s.logg.Warn(ctx, "superseding stale processing entry")
		}
	}

	entry, err := s.upsert(ctx, input)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Entry: entry}, nil
}

// executeUnkeyed handles keys with no order to lease: the unique key index
// is the tie-break, first insert wins and losers read the winner's row.
func (s *service) executeUnkeyed(ctx context.Context, input ExecuteInput) (Outcome, error) {
	now := s.now()
	if _, err := s.repo.DeleteExpiredByKey(ctx, input.Key, now); err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge expired entry")
	}

	entry, err := s.buildEntry(input, now)
	if err != nil {
		return Outcome{}, err
	}
	if _, insErr := s.repo.Insert(ctx, entry); insErr != nil {
		if !db.IsUniqueViolation(insErr, "ux_idempotency_entries_key", "idempotency_entries.key") {
			return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, insErr, "insert cache entry")
		}
		winner, findErr := s.repo.FindByKey(ctx, input.Key)
		if findErr != nil {
			return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load winning entry")
		}
		s.logg.Info(ctx, "lost cache insert race")
		return Outcome{Cached: true, Entry: winner}, nil
	}
	return Outcome{Entry: entry}, nil
}

func (s *service) upsert(ctx context.Context, input ExecuteInput) (*models.IdempotencyEntry, error) {
	now := s.now()
	existing, err := s.repo.FindByKey(ctx, input.Key)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cache entry")
	}

	fresh, err := s.buildEntry(input, now)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if _, insErr := s.repo.Insert(ctx, fresh); insErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, insErr, "insert cache entry")
		}
		return fresh, nil
	}

	existing.OrderID = input.OrderID
	existing.RequestSnapshot = fresh.RequestSnapshot
	existing.ResponseSnapshot = fresh.ResponseSnapshot
	existing.Status = fresh.Status
	existing.ExpiresAt = fresh.ExpiresAt
	if updErr := s.repo.Update(ctx, existing); updErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, updErr, "update cache entry")
	}
	return existing, nil
}

func (s *service) buildEntry(input ExecuteInput, now time.Time) (*models.IdempotencyEntry, error) {
	request, err := marshalSnapshot(input.Request)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal request snapshot")
	}
	response, err := marshalSnapshot(input.Response)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal response snapshot")
	}
	return &models.IdempotencyEntry{
		Key:              input.Key,
		OrderID:          input.OrderID,
		RequestSnapshot:  request,
		ResponseSnapshot: response,
		Status:           input.Status,
		ExpiresAt:        now.Add(s.entryTTL),
	}, nil
}

func marshalSnapshot(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}
