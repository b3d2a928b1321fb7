package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
)

// RunLogRepository persists pipeline runs and their stage events
type RunLogRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRunLogRepository creates a new run log repository
func NewRunLogRepository(db *sqlx.DB, logger *zap.Logger) *RunLogRepository {
	return &RunLogRepository{
		db:     db,
		logger: logger,
	}
}

// CreateRun inserts the initial RUNNING record for a run
func (r *RunLogRepository) CreateRun(ctx context.Context, run *entities.PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (run_id, status, started_at)
		VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, run.RunID, string(run.Status), run.StartedAt); err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun records the terminal status and counters of a run
func (r *RunLogRepository) FinishRun(ctx context.Context, run *entities.PipelineRun) error {
	query := `
		UPDATE pipeline_runs
		SET status = $2,
		    records_total = $3,
		    records_accepted = $4,
		    records_rejected = $5,
		    alert_count = $6,
		    warning_count = $7,
		    finished_at = $8
		WHERE run_id = $1`

	result, err := r.db.ExecContext(ctx, query,
		run.RunID, string(run.Status), run.RecordsTotal, run.RecordsAccepted,
		run.RecordsRejected, run.AlertCount, run.WarningCount, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.RunID, err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("run %s not found", run.RunID)
	}
	return nil
}

// InsertEvent appends one stage event to a run
func (r *RunLogRepository) InsertEvent(ctx context.Context, event *entities.RunEvent) error {
	query := `
		INSERT INTO run_events (run_id, stage, status, issue_count, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.ExecContext(ctx, query,
		event.RunID, string(event.Stage), event.Status, event.IssueCount, event.Details, event.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run event: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first
func (r *RunLogRepository) RecentRuns(ctx context.Context, limit int) ([]entities.PipelineRun, error) {
	query := `
		SELECT run_id, status, records_total, records_accepted, records_rejected,
		       alert_count, warning_count, started_at, finished_at
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1`

	var runs []entities.PipelineRun
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	return runs, nil
}
