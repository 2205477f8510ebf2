package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/internal/audit"
	"github.com/veloracommerce/paycore/internal/orders"
	"github.com/veloracommerce/paycore/pkg/enums"
	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
)

const (
	defaultReviewWindow = 24 * time.Hour
	defaultReviewBatch  = 200

	reviewActor  = "sweep:order-review"
	reviewReason = "payment pending past review window with no ledger activity"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderReviewJobParams configure the unpaid order review job.
type OrderReviewJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Repository   orders.Repository
	Audit        audit.Service
	Metrics      *metrics.SweepMetrics
	ReviewWindow time.Duration
	BatchLimit   int
}

// NewOrderReviewJob builds the job that flags orders stuck pending payment
// for manual review. Flagged orders are never cancelled automatically; a
// late settlement for a flagged order must still be able to land.
func NewOrderReviewJob(params OrderReviewJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	window := params.ReviewWindow
	if window <= 0 {
		window = defaultReviewWindow
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = defaultReviewBatch
	}
	return &orderReviewJob{
		logg:    params.Logger,
		db:      params.DB,
		repo:    params.Repository,
		audit:   params.Audit,
		metrics: params.Metrics,
		window:  window,
		limit:   limit,
		now:     time.Now,
	}, nil
}

type orderReviewJob struct {
	logg    *logger.Logger
	db      txRunner
	repo    orders.Repository
	audit   audit.Service
	metrics *metrics.SweepMetrics
	window  time.Duration
	limit   int
	now     func() time.Time
}

func (j *orderReviewJob) Name() string { return "order-review" }

func (j *orderReviewJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.window)

	candidates, err := j.repo.FindReviewCandidates(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("query review candidates: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetStuckItems(j.Name(), float64(len(candidates)))
	}

	var errs []error
	flagged := 0
	for _, order := range candidates {
		if err := j.flagOrder(ctx, order.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("flag order %s: %w", order.ID, err))
			continue
		}
		flagged++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"flagged": flagged,
	})
	j.logg.Info(logCtx, "order review flagging complete")
	return multierr.Combine(errs...)
}

func (j *orderReviewJob) flagOrder(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := j.repo.WithTx(tx).UpdateFields(ctx, orderID, map[string]any{
			"review_required_at": now,
			"review_reason":      reviewReason,
		}); err != nil {
			return err
		}
		return j.audit.Record(ctx, tx, audit.Entry{
			Kind:    enums.AuditKindManualReview,
			OrderID: &orderID,
			Actor:   reviewActor,
			Detail:  map[string]string{"reason": reviewReason},
		})
	})
}
