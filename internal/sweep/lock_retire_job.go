package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
)

const defaultReleasedRetention = 24 * time.Hour

// LockRetireJobParams configure the expired lease retirement job.
type LockRetireJobParams struct {
	Logger            *logger.Logger
	Repository        lockRetireRepo
	Metrics           *metrics.SweepMetrics
	ReleasedRetention time.Duration
}

type lockRetireRepo interface {
	RetireAllExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteReleasedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountOpen(ctx context.Context) (int64, error)
}

// NewLockRetireJob builds the job that marks expired leases released and
// bounds lock table growth by dropping long-released rows.
func NewLockRetireJob(params LockRetireJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("lock repository required")
	}
	retention := params.ReleasedRetention
	if retention <= 0 {
		retention = defaultReleasedRetention
	}
	return &lockRetireJob{
		logg:      params.Logger,
		repo:      params.Repository,
		metrics:   params.Metrics,
		retention: retention,
		now:       time.Now,
	}, nil
}

type lockRetireJob struct {
	logg      *logger.Logger
	repo      lockRetireRepo
	metrics   *metrics.SweepMetrics
	retention time.Duration
	now       func() time.Time
}

func (j *lockRetireJob) Name() string { return "lock-retire" }

func (j *lockRetireJob) Run(ctx context.Context) error {
	now := j.now().UTC()

	retired, err := j.repo.RetireAllExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("retire expired leases: %w", err)
	}
	deleted, err := j.repo.DeleteReleasedBefore(ctx, now.Add(-j.retention))
	if err != nil {
		return fmt.Errorf("delete released leases: %w", err)
	}
	open, err := j.repo.CountOpen(ctx)
	if err != nil {
		return fmt.Errorf("count open leases: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetStuckItems(j.Name(), float64(retired))
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"retired":      retired,
		"rows_deleted": deleted,
		"open_leases":  open,
	})
	j.logg.Info(logCtx, "lock retirement complete")
	return nil
}
