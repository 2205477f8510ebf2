package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
)

const defaultProcessingDeadline = 15 * time.Minute

// LedgerReconcileJobParams configure the stale ledger entry job.
type LedgerReconcileJobParams struct {
	Logger             *logger.Logger
	Repository         ledgerReconcileRepo
	Metrics            *metrics.SweepMetrics
	ProcessingDeadline time.Duration
}

type ledgerReconcileRepo interface {
	CountStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	MarkStaleProcessingFailed(ctx context.Context, cutoff, archivedAt time.Time) (int64, error)
}

// NewLedgerReconcileJob builds the job that fails and archives ledger
// entries stuck in processing past the deadline.
func NewLedgerReconcileJob(params LedgerReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	deadline := params.ProcessingDeadline
	if deadline <= 0 {
		deadline = defaultProcessingDeadline
	}
	return &ledgerReconcileJob{
		logg:     params.Logger,
		repo:     params.Repository,
		metrics:  params.Metrics,
		deadline: deadline,
		now:      time.Now,
	}, nil
}

type ledgerReconcileJob struct {
	logg     *logger.Logger
	repo     ledgerReconcileRepo
	metrics  *metrics.SweepMetrics
	deadline time.Duration
	now      func() time.Time
}

func (j *ledgerReconcileJob) Name() string { return "ledger-reconcile" }

func (j *ledgerReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.deadline)

	stuck, err := j.repo.CountStaleProcessing(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count stale ledger entries: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetStuckItems(j.Name(), float64(stuck))
	}

	archived, err := j.repo.MarkStaleProcessingFailed(ctx, cutoff, now)
	if err != nil {
		return fmt.Errorf("archive stale ledger entries: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":        cutoff,
		"rows_archived": archived,
	})
	j.logg.Info(logCtx, "ledger reconciliation complete")
	return nil
}
