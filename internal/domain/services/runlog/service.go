package runlog

import (
	"context"
	"time"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
)

// Repository persists run records and their structured events
type Repository interface {
	CreateRun(ctx context.Context, run *entities.PipelineRun) error
	FinishRun(ctx context.Context, run *entities.PipelineRun) error
	InsertEvent(ctx context.Context, event *entities.RunEvent) error
	RecentRuns(ctx context.Context, limit int) ([]entities.PipelineRun, error)
}

// Service is the run logger. Every stage transition lands in the run store
// and in the structured log. Run-log writes are best effort after the run
// record itself exists: a failed event insert degrades to a log entry so the
// pipeline outcome never depends on its own bookkeeping.
type Service struct {
	repo   Repository
	logger *logger.Logger
}

// NewService creates a new run logger
func NewService(repo Repository, logger *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// StartRun records the beginning of a pipeline run
func (s *Service) StartRun(ctx context.Context, runID string, startedAt time.Time) (*entities.PipelineRun, error) {
	run := &entities.PipelineRun{
		RunID:     runID,
		Status:    entities.RunStatusRunning,
		StartedAt: startedAt,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	s.logger.ForRun(runID, "run").Infow("pipeline run started")
	return run, nil
}

// StageEvent records one stage transition
func (s *Service) StageEvent(ctx context.Context, runID string, stage entities.Stage, status string, issueCount int, details string) {
	event := &entities.RunEvent{
		RunID:      runID,
		Stage:      stage,
		Status:     status,
		IssueCount: issueCount,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	log := s.logger.ForRun(runID, string(stage))
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		log.Errorw("failed to persist run event", "status", status, "error", err)
	}
	log.Infow("stage event",
		"status", status,
		"issue_count", issueCount,
		"details", details)
}

// FinishRun records the terminal status and counters of a run
func (s *Service) FinishRun(ctx context.Context, run *entities.PipelineRun, status entities.RunStatus, finishedAt time.Time) error {
	run.Status = status
	run.FinishedAt = &finishedAt

	if err := s.repo.FinishRun(ctx, run); err != nil {
		s.logger.ForRun(run.RunID, "run").Errorw("failed to persist run outcome",
			"status", status, "error", err)
		return err
	}
	s.logger.ForRun(run.RunID, "run").Infow("pipeline run finished",
		"status", status,
		"records_total", run.RecordsTotal,
		"records_accepted", run.RecordsAccepted,
		"records_rejected", run.RecordsRejected,
		"alert_count", run.AlertCount,
		"warning_count", run.WarningCount,
		"duration", finishedAt.Sub(run.StartedAt).String())
	return nil
}

// RecentRuns returns the most recent runs, newest first
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]entities.PipelineRun, error) {
	return s.repo.RecentRuns(ctx, limit)
}
