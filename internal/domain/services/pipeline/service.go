package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	perrors "github.com/bankdata-service/bankdata_service/pkg/errors"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
	"github.com/bankdata-service/bankdata_service/pkg/metrics"
)

// Source produces the candidate batch for one run
type Source interface {
	Load(ctx context.Context) (*entities.RecordBatch, error)
}

// Validator checks a candidate batch and returns the accepted subset
type Validator interface {
	Validate(ctx context.Context, batch *entities.RecordBatch, runTime time.Time) (*entities.AcceptedBatch, []entities.ValidationIssue, error)
}

// Persister writes an accepted batch to the store
type Persister interface {
	PersistBatch(ctx context.Context, runID string, accepted *entities.AcceptedBatch) error
}

// RiskEvaluator runs the risk rules over a persisted batch
type RiskEvaluator interface {
	Evaluate(ctx context.Context, runID string, accepted *entities.AcceptedBatch, runTime time.Time) ([]entities.RiskAlert, []string, error)
}

// RunLogger records run lifecycle and stage events
type RunLogger interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) (*entities.PipelineRun, error)
	StageEvent(ctx context.Context, runID string, stage entities.Stage, status string, issueCount int, details string)
	FinishRun(ctx context.Context, run *entities.PipelineRun, status entities.RunStatus, finishedAt time.Time) error
}

// ArtifactWriter stores the rejected-records artifact for one run
type ArtifactWriter interface {
	WriteRejected(runID string, issues []entities.ValidationIssue) (string, error)
}

// Service drives one pipeline run through ingest, validate, persist and risk
type Service struct {
	source    Source
	validator Validator
	persister Persister
	risk      RiskEvaluator
	runLog    RunLogger
	artifacts ArtifactWriter
	logger    *logger.Logger
}

// NewService creates a new pipeline service
func NewService(
	source Source,
	validator Validator,
	persister Persister,
	risk RiskEvaluator,
	runLog RunLogger,
	artifacts ArtifactWriter,
	logger *logger.Logger,
) *Service {
	return &Service{
		source:    source,
		validator: validator,
		persister: persister,
		risk:      risk,
		runLog:    runLog,
		artifacts: artifacts,
		logger:    logger,
	}
}

// Execute runs the full pipeline once. A dependency failure in any stage
// fails the run; rejected rows and degraded lookups only downgrade it to
// SUCCESS_WITH_WARNINGS. The returned report reflects everything the run
// produced, including the terminal status already persisted via the run
// logger.
func (s *Service) Execute(ctx context.Context) (*entities.RunReport, error) {
	runID := uuid.New().String()
	runTime := time.Now().UTC()
	log := s.logger.ForRun(runID, "pipeline")

	run, err := s.runLog.StartRun(ctx, runID, runTime)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	report := &entities.RunReport{RunID: runID, Status: entities.RunStatusFailed}

	fail := func(stage entities.Stage, err error) (*entities.RunReport, error) {
		s.runLog.StageEvent(ctx, runID, stage, "failed", 0, err.Error())
		s.finish(ctx, run, report, entities.RunStatusFailed, runTime)
		return report, err
	}

	// Ingest
	batch, err := timedStage(entities.StageIngest, func() (*entities.RecordBatch, error) {
		return s.source.Load(ctx)
	})
	if err != nil {
		return fail(entities.StageIngest, fmt.Errorf("ingest failed: %w", err))
	}
	run.RecordsTotal = batch.Len()
	s.runLog.StageEvent(ctx, runID, entities.StageIngest, "completed", 0,
		fmt.Sprintf("loaded %d candidate rows", batch.Len()))

	// Validate
	type validated struct {
		accepted *entities.AcceptedBatch
		issues   []entities.ValidationIssue
	}
	v, err := timedStage(entities.StageValidate, func() (validated, error) {
		accepted, issues, err := s.validator.Validate(ctx, batch, runTime)
		return validated{accepted, issues}, err
	})
	if err != nil {
		return fail(entities.StageValidate, fmt.Errorf("validation failed: %w", err))
	}
	report.Accepted = v.accepted
	report.Issues = v.issues
	run.RecordsAccepted = v.accepted.Len()
	run.RecordsRejected = run.RecordsTotal - run.RecordsAccepted
	s.runLog.StageEvent(ctx, runID, entities.StageValidate, "completed", len(v.issues),
		fmt.Sprintf("accepted %d of %d rows", run.RecordsAccepted, run.RecordsTotal))

	if len(v.issues) > 0 {
		path, aerr := s.artifacts.WriteRejected(runID, v.issues)
		if aerr != nil {
			// The issues survive in run events; losing the file is a warning
			log.Warnw("failed to write rejected-records artifact", "error", aerr)
			report.Warnings = append(report.Warnings, fmt.Sprintf("rejected-records artifact: %v", aerr))
		} else {
			report.ArtifactPath = path
		}
	}

	// Persist
	if _, err = timedStage(entities.StagePersist, func() (struct{}, error) {
		return struct{}{}, s.persister.PersistBatch(ctx, runID, v.accepted)
	}); err != nil {
		return fail(entities.StagePersist, fmt.Errorf("persistence failed: %w", err))
	}
	s.runLog.StageEvent(ctx, runID, entities.StagePersist, "completed", 0,
		fmt.Sprintf("persisted %d rows", run.RecordsAccepted))

	// Risk
	type evaluated struct {
		alerts   []entities.RiskAlert
		warnings []string
	}
	r, err := timedStage(entities.StageRisk, func() (evaluated, error) {
		alerts, warnings, err := s.risk.Evaluate(ctx, runID, v.accepted, runTime)
		return evaluated{alerts, warnings}, err
	})
	if err != nil {
		return fail(entities.StageRisk, fmt.Errorf("risk evaluation failed: %w", err))
	}
	report.Alerts = r.alerts
	report.Warnings = append(report.Warnings, r.warnings...)
	report.AlertsPerRule = make(map[entities.AlertType]int)
	for _, alert := range r.alerts {
		report.AlertsPerRule[alert.AlertType]++
	}
	run.AlertCount = len(r.alerts)
	run.WarningCount = len(report.Warnings)
	s.runLog.StageEvent(ctx, runID, entities.StageRisk, "completed", len(r.warnings),
		fmt.Sprintf("raised %d alerts", len(r.alerts)))

	status := entities.RunStatusSuccess
	if len(v.issues) > 0 || len(report.Warnings) > 0 {
		status = entities.RunStatusSuccessWithWarnings
	}
	s.finish(ctx, run, report, status, runTime)

	log.Infow("pipeline run complete",
		"status", status,
		"records_total", run.RecordsTotal,
		"records_accepted", run.RecordsAccepted,
		"alerts", run.AlertCount,
		"warnings", run.WarningCount)

	return report, nil
}

func (s *Service) finish(ctx context.Context, run *entities.PipelineRun, report *entities.RunReport, status entities.RunStatus, runTime time.Time) {
	report.Status = status
	metrics.PipelineRunsTotal.WithLabelValues(string(status)).Inc()
	if err := s.runLog.FinishRun(ctx, run, status, time.Now().UTC()); err != nil && !perrors.IsDependencyFailure(err) {
		s.logger.ForRun(run.RunID, "pipeline").Errorw("failed to finalize run record", "error", err)
	}
}

// timedStage runs one stage body and observes its duration
func timedStage[T any](stage entities.Stage, fn func() (T, error)) (T, error) {
	start := time.Now()
	defer func() {
		metrics.PipelineRunDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()
	return fn()
}
