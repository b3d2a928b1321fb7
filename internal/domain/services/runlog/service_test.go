package runlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateRun(ctx context.Context, run *entities.PipelineRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRepository) FinishRun(ctx context.Context, run *entities.PipelineRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRepository) InsertEvent(ctx context.Context, event *entities.RunEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockRepository) RecentRuns(ctx context.Context, limit int) ([]entities.PipelineRun, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.PipelineRun), args.Error(1)
}

func TestStartRunCreatesRunningRecord(t *testing.T) {
	repo := new(MockRepository)
	repo.On("CreateRun", mock.Anything, mock.MatchedBy(func(run *entities.PipelineRun) bool {
		return run.RunID == "run-1" && run.Status == entities.RunStatusRunning
	})).Return(nil)

	service := NewService(repo, logger.NewNop())
	run, err := service.StartRun(context.Background(), "run-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusRunning, run.Status)
	repo.AssertExpectations(t)
}

func TestStartRunPropagatesRepoError(t *testing.T) {
	repo := new(MockRepository)
	repo.On("CreateRun", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	_, err := NewService(repo, logger.NewNop()).StartRun(context.Background(), "run-1", time.Now().UTC())
	assert.Error(t, err)
}

func TestStageEventSurvivesInsertFailure(t *testing.T) {
	repo := new(MockRepository)
	repo.On("InsertEvent", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	service := NewService(repo, logger.NewNop())
	// Must not panic or fail the run
	service.StageEvent(context.Background(), "run-1", entities.StageValidate, "completed", 3, "accepted 7 of 10 rows")
	repo.AssertExpectations(t)
}

func TestFinishRunRecordsTerminalStatus(t *testing.T) {
	repo := new(MockRepository)
	repo.On("FinishRun", mock.Anything, mock.MatchedBy(func(run *entities.PipelineRun) bool {
		return run.Status == entities.RunStatusSuccessWithWarnings && run.FinishedAt != nil
	})).Return(nil)

	run := &entities.PipelineRun{
		RunID:     "run-1",
		Status:    entities.RunStatusRunning,
		StartedAt: time.Now().UTC().Add(-time.Minute),
	}
	err := NewService(repo, logger.NewNop()).FinishRun(context.Background(), run, entities.RunStatusSuccessWithWarnings, time.Now().UTC())
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
