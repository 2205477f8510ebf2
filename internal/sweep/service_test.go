package sweep

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
)

type fakeRunLock struct {
	held     bool
	acquired bool
}

func (f *fakeRunLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeRunLock) Release(context.Context) error {
	f.acquired = false
	return nil
}

type testJob struct {
	name   string
	err    error
	panics bool
	runs   int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.panics {
		panic("job exploded")
	}
	return t.err
}

func newSweepService(t *testing.T, registry *Registry, lock RunLock, m *metrics.SweepMetrics) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "sweep-test"}),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func TestRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSweepMetrics(reg)
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	service := newSweepService(t, NewRegistry(success, failure), &fakeRunLock{}, m)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected both jobs to run once, got %d/%d", success.runs, failure.runs)
	}
	if got := gatherGauge(t, reg, "sweep_cycle_completion_rate"); got != 0.5 {
		t.Fatalf("expected completion rate 0.5, got %f", got)
	}
	if got := gatherCounter(t, reg, "sweep_job_failure", "fail"); got != 1 {
		t.Fatalf("expected one failure for job fail, got %f", got)
	}
	if got := gatherCounter(t, reg, "sweep_job_success", "success"); got != 1 {
		t.Fatalf("expected one success, got %f", got)
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "noop"}
	service := newSweepService(t, NewRegistry(job), &fakeRunLock{held: true}, nil)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("locked cycle must not run jobs, ran %d", job.runs)
	}
}

func TestRunCycleContainsPanickingJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSweepMetrics(reg)
	before := &testJob{name: "before"}
	bad := &testJob{name: "bad", panics: true}
	after := &testJob{name: "after"}
	service := newSweepService(t, NewRegistry(before, bad, after), &fakeRunLock{}, m)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if after.runs != 1 {
		t.Fatal("jobs after a panic must still run")
	}
	if got := gatherCounter(t, reg, "sweep_job_failure", "bad"); got != 1 {
		t.Fatalf("panicking job must count as failure, got %f", got)
	}
	want := 2.0 / 3.0
	if got := gatherGauge(t, reg, "sweep_cycle_completion_rate"); got != want {
		t.Fatalf("expected completion rate %f, got %f", want, got)
	}
}

func gatherGauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	for _, mf := range gather(t, reg) {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("gauge %q not found", name)
	return 0
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name, job string) float64 {
	t.Helper()
	for _, mf := range gather(t, reg) {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabel(metric.GetLabel(), "job", job) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("counter %q for job %q not found", name, job)
	return 0
}

func gather(t *testing.T, reg *prometheus.Registry) []*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	return mfs
}

func hasLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
