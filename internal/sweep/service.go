package sweep

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

// ServiceParams configure the sweep service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     RunLock
	Metrics  *metrics.SweepMetrics
	Interval time.Duration
}

// Service executes the registered reconciliation jobs on a fixed cadence,
// one active cycle across all worker replicas.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     RunLock
	metrics  *metrics.SweepMetrics
	interval time.Duration
}

// NewService builds a sweep service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("run lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run starts the sweep loop until the context is canceled. The first cycle
// runs immediately.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "sweep cycle failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sweep service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "sweep cycle failed", err)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("run lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another sweep replica holds the run lock; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release sweep run lock", relErr)
		}
	}()

	s.logg.Info(ctx, "sweep cycle starting")
	jobs := s.registry.Jobs()
	completed := 0
	for _, job := range jobs {
		if s.runJob(ctx, job) {
			completed++
		}
	}
	if s.metrics != nil && len(jobs) > 0 {
		s.metrics.SetCompletionRate(float64(completed) / float64(len(jobs)))
	}
	s.logg.Info(ctx, "sweep cycle complete")
	return nil
}

// runJob executes one job with panic containment; a panicking job must not
// take down the remaining jobs or the worker.
func (s *Service) runJob(ctx context.Context, job Job) (ok bool) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	s.logg.Info(jobCtx, "job start")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logg.Error(jobCtx, "job panicked",
				fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
			s.recordFailure(job.Name())
			ok = false
		}
	}()

	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.observeDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.recordFailure(job.Name())
		return false
	}
	s.logg.Info(jobCtx, "job completed")
	s.recordSuccess(job.Name())
	return true
}

func (s *Service) observeDuration(job string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(job, duration)
}

func (s *Service) recordSuccess(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSuccess(job)
}

func (s *Service) recordFailure(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncFailure(job)
}
