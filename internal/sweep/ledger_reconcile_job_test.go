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

type fakeLedgerReconcileRepo struct {
	stale      int64
	lastCutoff time.Time
	archivedAt time.Time
	markCalls  int
	countErr   error
	archiveErr error
	rowsMarked int64
}

func (f *fakeLedgerReconcileRepo) CountStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.stale, nil
}

func (f *fakeLedgerReconcileRepo) MarkStaleProcessingFailed(ctx context.Context, cutoff, archivedAt time.Time) (int64, error) {
	f.markCalls++
	f.lastCutoff = cutoff
	f.archivedAt = archivedAt
	if f.archiveErr != nil {
		return 0, f.archiveErr
	}
	return f.rowsMarked, nil
}

func newLedgerReconcileJob(t *testing.T, repo *fakeLedgerReconcileRepo, m *metrics.SweepMetrics) *ledgerReconcileJob {
	t.Helper()
	jobIface, err := NewLedgerReconcileJob(LedgerReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "sweep-test"}),
		Repository: repo,
		Metrics:    m,
	})
	if err != nil {
		t.Fatalf("NewLedgerReconcileJob: %v", err)
	}
	job, ok := jobIface.(*ledgerReconcileJob)
	if !ok {
		t.Fatalf("expected ledgerReconcileJob, got %T", jobIface)
	}
	return job
}

func TestLedgerReconcileJobArchivesStaleEntries(t *testing.T) {
	now := time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	m := metrics.NewSweepMetrics(reg)
	repo := &fakeLedgerReconcileRepo{stale: 3, rowsMarked: 3}
	job := newLedgerReconcileJob(t, repo, m)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.Add(-defaultProcessingDeadline)
	if !repo.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, repo.lastCutoff)
	}
	if !repo.archivedAt.Equal(now) {
		t.Fatalf("expected archive timestamp %s, got %s", now, repo.archivedAt)
	}
	if got := gatherGaugeForJob(t, reg, "sweep_stuck_items", "ledger-reconcile"); got != 3 {
		t.Fatalf("expected stuck gauge 3, got %f", got)
	}
}

func TestLedgerReconcileJobPropagatesError(t *testing.T) {
	repo := &fakeLedgerReconcileRepo{archiveErr: errors.New("boom")}
	job := newLedgerReconcileJob(t, repo, nil)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func gatherGaugeForJob(t *testing.T, reg *prometheus.Registry, name, job string) float64 {
	t.Helper()
	for _, mf := range gather(t, reg) {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabel(metric.GetLabel(), "job", job) {
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("gauge %q for job %q not found", name, job)
	return 0
}
