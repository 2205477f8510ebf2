package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestSweepMetricsExportsAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSweepMetrics(reg)
	job := "ledger-reconcile"
	metrics.ObserveDuration(job, 120*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)
	metrics.SetStuckItems(job, 7)
	metrics.SetCompletionRate(0.8)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "sweep_job_success", "job", job); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchGaugeValue(mfs, "sweep_stuck_items", "job", job); err != nil {
		t.Fatalf("fetch stuck items: %v", err)
	} else if got != 7 {
		t.Fatalf("expected stuck=7, got %f", got)
	}

	if got, err := fetchGaugeValue(mfs, "sweep_cycle_completion_rate", "", ""); err != nil {
		t.Fatalf("fetch completion rate: %v", err)
	} else if got != 0.8 {
		t.Fatalf("expected completion rate 0.8, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "sweep_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestSweepMetricsNilSafe(t *testing.T) {
	var metrics *SweepMetrics
	metrics.IncSuccess("x")
	metrics.SetCompletionRate(1)

	empty := NewSweepMetrics(nil)
	empty.ObserveDuration("x", time.Second)
	empty.SetStuckItems("x", 1)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchGaugeValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if label == "" || matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetGauge().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
