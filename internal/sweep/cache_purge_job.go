package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
)

const defaultCacheStaleness = 5 * time.Minute

// CachePurgeJobParams configure the idempotency cache maintenance job.
type CachePurgeJobParams struct {
	Logger     *logger.Logger
	Repository cachePurgeRepo
	Metrics    *metrics.SweepMetrics
	Staleness  time.Duration
}

type cachePurgeRepo interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	MarkStaleProcessingFailed(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewCachePurgeJob builds the job that drops expired idempotency entries and
// fails entries abandoned mid-processing.
func NewCachePurgeJob(params CachePurgeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("idempotency repository required")
	}
	staleness := params.Staleness
	if staleness <= 0 {
		staleness = defaultCacheStaleness
	}
	return &cachePurgeJob{
		logg:      params.Logger,
		repo:      params.Repository,
		metrics:   params.Metrics,
		staleness: staleness,
		now:       time.Now,
	}, nil
}

type cachePurgeJob struct {
	logg      *logger.Logger
	repo      cachePurgeRepo
	metrics   *metrics.SweepMetrics
	staleness time.Duration
	now       func() time.Time
}

func (j *cachePurgeJob) Name() string { return "cache-purge" }

func (j *cachePurgeJob) Run(ctx context.Context) error {
	now := j.now().UTC()

	expired, err := j.repo.DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("delete expired cache entries: %w", err)
	}
	failed, err := j.repo.MarkStaleProcessingFailed(ctx, now.Add(-j.staleness))
	if err != nil {
		return fmt.Errorf("fail stale processing entries: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetStuckItems(j.Name(), float64(failed))
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"rows_deleted": expired,
		"rows_failed":  failed,
	})
	j.logg.Info(logCtx, "idempotency cache purge complete")
	return nil
}
