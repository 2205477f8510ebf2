package notifications

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db"
	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
	pkgerrors "github.com/veloracommerce/paycore/pkg/errors"
	"github.com/veloracommerce/paycore/pkg/logger"
)

var (
	dedupeMarkers  = []string{"ux_notification_events_dedupe", "notification_events.dedupe_key"}
	triggerMarkers = []string{"ux_notification_events_trigger", "notification_events.trigger_key"}
)

// EnqueueInput describes one logical notification trigger. TriggerKey ties
// resubmissions of the same trigger together; empty means a fresh trigger.
type EnqueueInput struct {
	OrderID     uuid.UUID
	EventType   enums.NotificationEventType
	Recipient   string
	TemplateKey string
	Variables   any
	TriggerKey  string
}

// Service is the dispatch queue: enqueue side for domain services, claim and
// report side for the external template/delivery collaborator.
type Service interface {
	Enqueue(ctx context.Context, input EnqueueInput) (uuid.UUID, error)
	ClaimBatch(ctx context.Context, limit int) ([]models.NotificationEvent, error)
	ReportDelivery(ctx context.Context, eventID uuid.UUID, delivered bool, reason string) error
}

type service struct {
	repo           Repository
	logg           *logger.Logger
	insertAttempts int
	retryBound     int
	now            func() time.Time
	entropy        func() string
}

// ServiceParams carries the dependencies for NewService.
type ServiceParams struct {
	Repo           Repository
	Logger         *logger.Logger
	InsertAttempts int
	RetryBound     int
	Now            func() time.Time
	Entropy        func() string
}

// NewService builds a notifications service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.InsertAttempts <= 0 {
		return nil, fmt.Errorf("insert attempt bound must be positive")
	}
	if params.RetryBound <= 0 {
		return nil, fmt.Errorf("retry bound must be positive")
	}
	nowFn := params.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	entropyFn := params.Entropy
	if entropyFn == nil {
		entropyFn = randomEntropy
	}
	return &service{
		repo:           params.Repo,
		logg:           params.Logger,
		insertAttempts: params.InsertAttempts,
		retryBound:     params.RetryBound,
		now:            nowFn,
		entropy:        entropyFn,
	}, nil
}

func (s *service) Enqueue(ctx context.Context, input EnqueueInput) (uuid.UUID, error) {
	if input.OrderID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.EventType.IsValid() {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "event type invalid")
	}
	if input.TemplateKey == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "template key required")
	}
	triggerKey := input.TriggerKey
	if triggerKey == "" {
		triggerKey = uuid.NewString()
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	variables, err := marshalVariables(input.Variables)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal variables")
	}

	event := &models.NotificationEvent{
		TriggerKey:  triggerKey,
		OrderID:     input.OrderID,
		EventType:   input.EventType,
		Recipient:   input.Recipient,
		TemplateKey: input.TemplateKey,
		Variables:   variables,
		Status:      enums.NotificationStatusQueued,
	}
	if !resolvableRecipient(input.Recipient) {
		// Undeliverable from the start: record the trigger, never retry.
		reason := "recipient has no resolvable address"
		event.Status = enums.NotificationStatusFailed
		event.RetriesDisabled = true
		event.LastError = &reason
		s.logg.Warn(ctx, "notification recipient unresolvable")
	}

	for attempt := 1; attempt <= s.insertAttempts; attempt++ {
		event.DedupeKey = s.dedupeKey(input)
		_, insErr := s.repo.Insert(ctx, event)
		if insErr == nil {
			return event.ID, nil
		}
		if db.IsUniqueViolation(insErr, triggerMarkers...) {
			existing, findErr := s.repo.FindByTrigger(ctx, input.OrderID, input.EventType, triggerKey)
			if findErr != nil {
				return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load trigger row")
			}
			return existing.ID, nil
		}
		if !db.IsUniqueViolation(insErr, dedupeMarkers...) {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, insErr, "insert notification")
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "dedupe key collision")
	}

	return s.mergeFallback(s.logg.WithField(ctx, "trigger_key", triggerKey), input)
}

// mergeFallback is the single non-loop exit after the insert attempts are
// exhausted: requeue a failed row for the same target if one exists, then
// hand back whatever row now represents the trigger.
func (s *service) mergeFallback(ctx context.Context, input EnqueueInput) (uuid.UUID, error) {
	requeued, err := s.repo.RequeueFailed(ctx, input.OrderID, input.EventType, input.TemplateKey, input.Recipient)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge requeue")
	}
	if requeued > 0 {
		s.logg.Info(ctx, "requeued failed notification after collision exhaustion")
	}
	existing, err := s.repo.FindLatestByTarget(ctx, input.OrderID, input.EventType, input.TemplateKey, input.Recipient)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeInternal, "dedupe collisions exhausted with no surviving row")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load merged row")
	}
	return existing.ID, nil
}

func (s *service) ClaimBatch(ctx context.Context, limit int) ([]models.NotificationEvent, error) {
	if limit <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "claim limit must be positive")
	}
	batch, err := s.repo.ClaimQueued(ctx, limit, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim queued notifications")
	}
	return batch, nil
}

func (s *service) ReportDelivery(ctx context.Context, eventID uuid.UUID, delivered bool, reason string) error {
	if eventID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	event, err := s.repo.FindByID(ctx, eventID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification")
	}
	if event.Status != enums.NotificationStatusProcessing {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery report for unclaimed notification")
	}

	now := s.now()
	if delivered {
		event.Status = enums.NotificationStatusSent
		event.SentAt = &now
		event.LastError = nil
	} else {
		event.RetryCount++
		event.LastError = &reason
		event.ClaimedAt = nil
		if event.RetryCount < s.retryBound && !event.RetriesDisabled {
			event.Status = enums.NotificationStatusQueued
		} else {
			event.Status = enums.NotificationStatusFailed
			s.logg.Warn(s.logg.WithOrderID(ctx, event.OrderID.String()), "notification retries exhausted")
		}
	}
	if err := s.repo.Update(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update notification")
	}
	return nil
}

// dedupeKey builds <order>:<event>:<template>:<sha1(recipient) prefix>:<millis>-<entropy>.
func (s *service) dedupeKey(input EnqueueInput) string {
	sum := sha1.Sum([]byte(input.Recipient))
	return fmt.Sprintf("%s:%s:%s:%s:%d-%s",
		input.OrderID,
		input.EventType,
		input.TemplateKey,
		hex.EncodeToString(sum[:])[:8],
		s.now().UnixMilli(),
		s.entropy(),
	)
}

func resolvableRecipient(recipient string) bool {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return false
	}
	at := strings.Index(trimmed, "@")
	return at > 0 && at < len(trimmed)-1
}

func randomEntropy() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%06x", time.Now().UnixNano()&0xffffff)
	}
	return hex.EncodeToString(buf)
}

func marshalVariables(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}
