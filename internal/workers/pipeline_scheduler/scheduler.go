package pipeline_scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
)

// Runner executes one pipeline run
type Runner interface {
	Execute(ctx context.Context) (*entities.RunReport, error)
}

// Scheduler triggers pipeline runs on a cron schedule. Runs never overlap:
// a tick that fires while a run is in flight is skipped and logged.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	schedule string
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
}

// New creates a new pipeline scheduler
func New(schedule string, runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the cron entry and begins scheduling
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.tick(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("pipeline scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop stops scheduling and waits for an in-flight run to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("pipeline scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("skipping scheduled run, previous run still in flight")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	report, err := s.runner.Execute(ctx)
	if err != nil {
		s.logger.Error("scheduled run failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", string(report.Status)),
		zap.Int("alerts", len(report.Alerts)))
}
