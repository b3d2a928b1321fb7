package pipeline_scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
)

// blockingRunner holds each Execute call until released so ticks can be
// forced to overlap deterministically.
type blockingRunner struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Execute(ctx context.Context) (*entities.RunReport, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	close(r.started)
	<-r.release
	return &entities.RunReport{RunID: "run-1", Status: entities.RunStatusSuccess}, nil
}

func (r *blockingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestTickRunsThePipeline(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	s := New("@every 1h", runner, zap.NewNop())

	s.tick(context.Background())

	assert.Equal(t, 1, runner.callCount())
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	runner := newBlockingRunner()
	s := New("@every 1h", runner, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tick(context.Background())
	}()
	<-runner.started

	// Second tick fires while the first run is still in flight
	s.tick(context.Background())
	assert.Equal(t, 1, runner.callCount())

	close(runner.release)
	wg.Wait()

	// With the first run finished, the next tick runs again
	runner.started = make(chan struct{})
	runner.release = make(chan struct{})
	close(runner.release)
	s.tick(context.Background())
	assert.Equal(t, 2, runner.callCount())
}
