package sweep

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
)

const (
	defaultClaimTimeout          = 10 * time.Minute
	defaultNotificationRetention = 30 * 24 * time.Hour
)

// NotificationRetentionJobParams configure the dispatch queue maintenance job.
type NotificationRetentionJobParams struct {
	Logger       *logger.Logger
	Repository   notificationRetentionRepo
	Metrics      *metrics.SweepMetrics
	ClaimTimeout time.Duration
	Retention    time.Duration
}

type notificationRetentionRepo interface {
	CountStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	RequeueStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewNotificationRetentionJob builds the job that requeues notifications
// whose claimant died mid-dispatch and drops terminal rows past retention.
func NewNotificationRetentionJob(params NotificationRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("notification repository required")
	}
	claimTimeout := params.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = defaultClaimTimeout
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultNotificationRetention
	}
	return &notificationRetentionJob{
		logg:         params.Logger,
		repo:         params.Repository,
		metrics:      params.Metrics,
		claimTimeout: claimTimeout,
		retention:    retention,
		now:          time.Now,
	}, nil
}

type notificationRetentionJob struct {
	logg         *logger.Logger
	repo         notificationRetentionRepo
	metrics      *metrics.SweepMetrics
	claimTimeout time.Duration
	retention    time.Duration
	now          func() time.Time
}

func (j *notificationRetentionJob) Name() string { return "notification-retention" }

func (j *notificationRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	claimCutoff := now.Add(-j.claimTimeout)

	var errs []error
	stuck, err := j.repo.CountStuckProcessing(ctx, claimCutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("count stuck notifications: %w", err))
	} else if j.metrics != nil {
		j.metrics.SetStuckItems(j.Name(), float64(stuck))
	}

	requeued, err := j.repo.RequeueStuckProcessing(ctx, claimCutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("requeue stuck notifications: %w", err))
	}
	deleted, err := j.repo.DeleteTerminalBefore(ctx, now.Add(-j.retention))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete terminal notifications: %w", err))
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"requeued":     requeued,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "notification retention complete")
	return multierr.Combine(errs...)
}
