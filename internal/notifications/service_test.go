package notifications

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
	pkgerrors "github.com/veloracommerce/paycore/pkg/errors"
	"github.com/veloracommerce/paycore/pkg/logger"
)

type stubQueueRepo struct {
	byID      map[uuid.UUID]*models.NotificationEvent
	byDedupe  map[string]*models.NotificationEvent
	requeued  int64
	inserts   int
	claimed   []models.NotificationEvent
	claimErr  error
	updateLog []*models.NotificationEvent
}

func newStubQueueRepo() *stubQueueRepo {
	return &stubQueueRepo{
		byID:     make(map[uuid.UUID]*models.NotificationEvent),
		byDedupe: make(map[string]*models.NotificationEvent),
	}
}

func (s *stubQueueRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubQueueRepo) Insert(ctx context.Context, event *models.NotificationEvent) (*models.NotificationEvent, error) {
	s.inserts++
	if _, ok := s.byDedupe[event.DedupeKey]; ok {
		return nil, errDedupeViolation{}
	}
	for _, existing := range s.byID {
		if existing.OrderID == event.OrderID &&
			existing.EventType == event.EventType &&
			existing.TriggerKey == event.TriggerKey {
			return nil, errTriggerViolation{}
		}
	}
	event.ID = uuid.New()
	clone := *event
	s.byID[event.ID] = &clone
	s.byDedupe[event.DedupeKey] = &clone
	return event, nil
}

func (s *stubQueueRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.NotificationEvent, error) {
	event, ok := s.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *event
	return &clone, nil
}

func (s *stubQueueRepo) FindByTrigger(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, triggerKey string) (*models.NotificationEvent, error) {
	for _, event := range s.byID {
		if event.OrderID == orderID && event.EventType == eventType && event.TriggerKey == triggerKey {
			clone := *event
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubQueueRepo) FindLatestByTarget(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, templateKey, recipient string) (*models.NotificationEvent, error) {
	for _, event := range s.byID {
		if event.OrderID == orderID && event.EventType == eventType &&
			event.TemplateKey == templateKey && event.Recipient == recipient {
			clone := *event
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubQueueRepo) RequeueFailed(ctx context.Context, orderID uuid.UUID, eventType enums.NotificationEventType, templateKey, recipient string) (int64, error) {
	var affected int64
	for _, event := range s.byID {
		if event.OrderID == orderID && event.EventType == eventType &&
			event.TemplateKey == templateKey && event.Recipient == recipient &&
			event.Status == enums.NotificationStatusFailed && !event.RetriesDisabled {
			event.Status = enums.NotificationStatusQueued
			event.RetryCount = 0
			event.LastError = nil
			affected++
		}
	}
	s.requeued += affected
	return affected, nil
}

func (s *stubQueueRepo) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]models.NotificationEvent, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.claimed, nil
}

func (s *stubQueueRepo) Update(ctx context.Context, event *models.NotificationEvent) error {
	clone := *event
	s.byID[event.ID] = &clone
	s.updateLog = append(s.updateLog, &clone)
	return nil
}

func (s *stubQueueRepo) RequeueStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *stubQueueRepo) CountStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *stubQueueRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type errDedupeViolation struct{}

func (errDedupeViolation) Error() string {
	return "UNIQUE constraint failed: notification_events.dedupe_key"
}

type errTriggerViolation struct{}

func (errTriggerViolation) Error() string {
	return "UNIQUE constraint failed: notification_events.order_id, notification_events.event_type, notification_events.trigger_key"
}

func newQueueService(t *testing.T, repo Repository, entropy func() string) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:           repo,
		Logger:         logger.New(logger.Options{ServiceName: "notifications-test"}),
		InsertAttempts: 3,
		RetryBound:     5,
		Now:            func() time.Time { return time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC) },
		Entropy:        entropy,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestEnqueueWritesQueuedRow(t *testing.T) {
	repo := newStubQueueRepo()
	svc := newQueueService(t, repo, nil)

	id, err := svc.Enqueue(context.Background(), EnqueueInput{
		OrderID:     uuid.New(),
		EventType:   enums.NotificationEventPaymentConfirmed,
		Recipient:   "buyer@example.com",
		TemplateKey: "payment-confirmed",
		Variables:   map[string]string{"order_number": "ord_1"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	event := repo.byID[id]
	if event == nil {
		t.Fatal("row missing")
	}
	if event.Status != enums.NotificationStatusQueued {
		t.Fatalf("expected queued row, got %s", event.Status)
	}
	if event.TriggerKey == "" {
		t.Fatal("trigger key must be allocated")
	}
	if !strings.Contains(event.DedupeKey, "payment-confirmed") {
		t.Fatalf("dedupe key malformed: %s", event.DedupeKey)
	}
}

func TestEnqueueUnresolvableRecipientIsTerminal(t *testing.T) {
	repo := newStubQueueRepo()
	svc := newQueueService(t, repo, nil)

	id, err := svc.Enqueue(context.Background(), EnqueueInput{
		OrderID:     uuid.New(),
		EventType:   enums.NotificationEventPaymentFailed,
		Recipient:   "   ",
		TemplateKey: "payment-failed",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	event := repo.byID[id]
	if event.Status != enums.NotificationStatusFailed {
		t.Fatalf("expected terminal failed, got %s", event.Status)
	}
	if !event.RetriesDisabled {
		t.Fatal("retries must be disabled")
	}
	if event.LastError == nil {
		t.Fatal("expected failure reason")
	}
}

func TestEnqueueCollisionsRegenerateEntropyOnly(t *testing.T) {
	repo := newStubQueueRepo()
	entropies := []string{"aaaaaa", "aaaaaa", "bbbbbb"}
	calls := 0
	svc := newQueueService(t, repo, func() string {
		value := entropies[calls%len(entropies)]
		calls++
		return value
	})
	orderID := uuid.New()

	firstID, err := svc.Enqueue(context.Background(), EnqueueInput{
		OrderID:     orderID,
		EventType:   enums.NotificationEventPaymentConfirmed,
		Recipient:   "buyer@example.com",
		TemplateKey: "payment-confirmed",
		TriggerKey:  "trigger-a",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Same recipient and timestamp, colliding entropy on the first attempt,
	// but a distinct trigger: the retry with fresh entropy must win.
	secondID, err := svc.Enqueue(context.Background(), EnqueueInput{
		OrderID:     orderID,
		EventType:   enums.NotificationEventPaymentConfirmed,
		Recipient:   "buyer@example.com",
		TemplateKey: "payment-confirmed",
		TriggerKey:  "trigger-b",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if firstID == secondID {
		t.Fatal("distinct triggers must produce distinct rows")
	}
	if repo.inserts != 3 {
		t.Fatalf("expected 3 insert attempts total, got %d", repo.inserts)
	}
}

func TestEnqueueSameTriggerConvergesToOneRow(t *testing.T) {
	repo := newStubQueueRepo()
	svc := newQueueService(t, repo, nil)
	orderID := uuid.New()
	input := EnqueueInput{
		OrderID:     orderID,
		EventType:   enums.NotificationEventPaymentConfirmed,
		Recipient:   "buyer@example.com",
		TemplateKey: "payment-confirmed",
		TriggerKey:  "txn_123",
	}

	firstID, err := svc.Enqueue(context.Background(), input)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	secondID, err := svc.Enqueue(context.Background(), input)
	if err != nil {
		t.Fatalf("Enqueue replay: %v", err)
	}
	if firstID != secondID {
		t.Fatal("one logical trigger must map to one row")
	}
	if len(repo.byID) != 1 {
		t.Fatalf("expected 1 row, got %d", len(repo.byID))
	}
}

func TestEnqueueExhaustionFallsBackToMerge(t *testing.T) {
	repo := newStubQueueRepo()
	svc := newQueueService(t, repo, func() string { return "static" })
	orderID := uuid.New()

	failed := &models.NotificationEvent{
		ID:          uuid.New(),
		OrderID:     orderID,
		EventType:   enums.NotificationEventPaymentConfirmed,
		TemplateKey: "payment-confirmed",
		Recipient:   "buyer@example.com",
		TriggerKey:  "trigger-old",
		DedupeKey:   "occupied",
		Status:      enums.NotificationStatusFailed,
	}
	repo.byID[failed.ID] = failed
	// Every generated dedupe key collides.
	repo.byDedupe[keyFor(t, svc, orderID)] = failed

	id, err := svc.Enqueue(context.Background(), EnqueueInput{
		OrderID:     orderID,
		EventType:   enums.NotificationEventPaymentConfirmed,
		Recipient:   "buyer@example.com",
		TemplateKey: "payment-confirmed",
		TriggerKey:  "trigger-new",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id != failed.ID {
		t.Fatal("fallback must hand back the merged row")
	}
	if repo.byID[failed.ID].Status != enums.NotificationStatusQueued {
		t.Fatal("failed row must be requeued")
	}
	if repo.requeued != 1 {
		t.Fatalf("expected one requeue, got %d", repo.requeued)
	}
}

// keyFor precomputes the dedupe key the service will generate with its
// frozen clock and static entropy.
func keyFor(t *testing.T, svc Service, orderID uuid.UUID) string {
	t.Helper()
	impl, ok := svc.(*service)
	if !ok {
		t.Fatal("unexpected service type")
	}
	return impl.dedupeKey(EnqueueInput{
		OrderID:     orderID,
		EventType:   enums.NotificationEventPaymentConfirmed,
		Recipient:   "buyer@example.com",
		TemplateKey: "payment-confirmed",
	})
}

func TestReportDeliverySentAndRetryBound(t *testing.T) {
	repo := newStubQueueRepo()
	svc := newQueueService(t, repo, nil)

	event := &models.NotificationEvent{
		ID:         uuid.New(),
		OrderID:    uuid.New(),
		EventType:  enums.NotificationEventPaymentConfirmed,
		Status:     enums.NotificationStatusProcessing,
		RetryCount: 4,
	}
	repo.byID[event.ID] = event

	if err := svc.ReportDelivery(context.Background(), event.ID, false, "smtp timeout"); err != nil {
		t.Fatalf("ReportDelivery: %v", err)
	}
	updated := repo.byID[event.ID]
	if updated.Status != enums.NotificationStatusFailed {
		t.Fatalf("fifth failure must be terminal, got %s", updated.Status)
	}
	if updated.RetryCount != 5 {
		t.Fatalf("expected retry count 5, got %d", updated.RetryCount)
	}

	sent := &models.NotificationEvent{
		ID:      uuid.New(),
		OrderID: uuid.New(),
		Status:  enums.NotificationStatusProcessing,
	}
	repo.byID[sent.ID] = sent
	if err := svc.ReportDelivery(context.Background(), sent.ID, true, ""); err != nil {
		t.Fatalf("ReportDelivery: %v", err)
	}
	if got := repo.byID[sent.ID]; got.Status != enums.NotificationStatusSent || got.SentAt == nil {
		t.Fatalf("expected sent with timestamp, got %+v", got)
	}
}

func TestReportDeliveryRequeuesBelowBound(t *testing.T) {
	repo := newStubQueueRepo()
	svc := newQueueService(t, repo, nil)

	claimedAt := time.Now()
	event := &models.NotificationEvent{
		ID:        uuid.New(),
		OrderID:   uuid.New(),
		Status:    enums.NotificationStatusProcessing,
		ClaimedAt: &claimedAt,
	}
	repo.byID[event.ID] = event

	if err := svc.ReportDelivery(context.Background(), event.ID, false, "bounce"); err != nil {
		t.Fatalf("ReportDelivery: %v", err)
	}
	updated := repo.byID[event.ID]
	if updated.Status != enums.NotificationStatusQueued {
		t.Fatalf("expected requeue, got %s", updated.Status)
	}
	if updated.ClaimedAt != nil {
		t.Fatal("claim must be cleared on requeue")
	}
	if updated.RetryCount != 1 || updated.LastError == nil {
		t.Fatalf("retry bookkeeping wrong: %+v", updated)
	}
}

func TestReportDeliveryRejectsUnclaimedRow(t *testing.T) {
	repo := newStubQueueRepo()
	svc := newQueueService(t, repo, nil)

	event := &models.NotificationEvent{
		ID:      uuid.New(),
		OrderID: uuid.New(),
		Status:  enums.NotificationStatusQueued,
	}
	repo.byID[event.ID] = event

	err := svc.ReportDelivery(context.Background(), event.ID, true, "")
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
