package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
)

type fakeNotificationRetentionRepo struct {
	stuck           int64
	requeued        int64
	deleted         int64
	claimCutoff     time.Time
	retentionCutoff time.Time
	requeueErr      error
	deleteErr       error
}

func (f *fakeNotificationRetentionRepo) CountStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.stuck, nil
}

func (f *fakeNotificationRetentionRepo) RequeueStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	f.claimCutoff = cutoff
	if f.requeueErr != nil {
		return 0, f.requeueErr
	}
	return f.requeued, nil
}

func (f *fakeNotificationRetentionRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.retentionCutoff = cutoff
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.deleted, nil
}

func newNotificationRetentionJob(t *testing.T, repo *fakeNotificationRetentionRepo, m *metrics.SweepMetrics) *notificationRetentionJob {
	t.Helper()
	jobIface, err := NewNotificationRetentionJob(NotificationRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "sweep-test"}),
		Repository: repo,
		Metrics:    m,
	})
	if err != nil {
		t.Fatalf("NewNotificationRetentionJob: %v", err)
	}
	job, ok := jobIface.(*notificationRetentionJob)
	if !ok {
		t.Fatalf("expected notificationRetentionJob, got %T", jobIface)
	}
	return job
}

func TestNotificationRetentionJobRequeuesAndPrunes(t *testing.T) {
	now := time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	m := metrics.NewSweepMetrics(reg)
	repo := &fakeNotificationRetentionRepo{stuck: 2, requeued: 2, deleted: 9}
	job := newNotificationRetentionJob(t, repo, m)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !repo.claimCutoff.Equal(now.Add(-defaultClaimTimeout)) {
		t.Fatalf("unexpected claim cutoff %s", repo.claimCutoff)
	}
	if !repo.retentionCutoff.Equal(now.Add(-defaultNotificationRetention)) {
		t.Fatalf("unexpected retention cutoff %s", repo.retentionCutoff)
	}
	if got := gatherGaugeForJob(t, reg, "sweep_stuck_items", "notification-retention"); got != 2 {
		t.Fatalf("expected stuck gauge 2, got %f", got)
	}
}

func TestNotificationRetentionJobAggregatesErrors(t *testing.T) {
	repo := &fakeNotificationRetentionRepo{
		requeueErr: errors.New("requeue down"),
		deleteErr:  errors.New("delete down"),
	}
	job := newNotificationRetentionJob(t, repo, nil)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	// Both maintenance steps must have been attempted.
	if repo.claimCutoff.IsZero() || repo.retentionCutoff.IsZero() {
		t.Fatal("a failing step must not short-circuit the remaining steps")
	}
}
