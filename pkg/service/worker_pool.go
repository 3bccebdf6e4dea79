package service

import (
	"context"
	"runtime"
	"sync"

	"github.com/ignatij/seqflow/pkg/models"
	"github.com/pkg/errors"
)

// ErrPoolStopped is returned by Submit once Stop has been called.
var ErrPoolStopped = errors.New("worker pool is stopped")

// WorkerPool runs sequences in the background. Each queued run owns its
// execution state, so runs of the same sequence never interfere.
type WorkerPool struct {
	runner  *Runner
	logger  Logger
	runChan chan *PreparedRun
	mu      sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	started bool
	stopped bool
}

// NewWorkerPool creates a pool whose runs live as long as mainCtx.
func NewWorkerPool(mainCtx context.Context, runner *Runner, logger Logger) *WorkerPool {
	if logger == nil {
		logger = nopLogger{}
	}
	return &WorkerPool{
		runner: runner,
		logger: logger,
		ctx:    mainCtx,
	}
}

// Start begins the worker pool with the specified number of workers.
// queueSize bounds the number of runs waiting for a free worker.
func (wp *WorkerPool) Start(workers, queueSize int) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize < workers {
		queueSize = workers
	}
	wp.runChan = make(chan *PreparedRun, queueSize)
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	wp.started = true
	wp.logger.Infof("Worker pool started with %d workers", workers)
}

// Submit creates the execution synchronously and queues it. The returned
// execution id is immediately visible in the store with status running.
func (wp *WorkerPool) Submit(ctx context.Context, sequenceID string, input map[string]any) (string, error) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.started || wp.stopped {
		return "", ErrPoolStopped
	}

	run, err := wp.runner.Prepare(ctx, sequenceID, input)
	if err != nil {
		return "", err
	}

	select {
	case wp.runChan <- run:
		wp.logger.Infof("Queued execution %s of sequence %s", run.Execution.ID, sequenceID)
		return run.Execution.ID, nil
	case <-ctx.Done():
		return "", wp.abort(run, ctx.Err())
	case <-wp.ctx.Done():
		return "", wp.abort(run, wp.ctx.Err())
	}
}

func (wp *WorkerPool) abort(run *PreparedRun, cause error) error {
	reason := "execution was not queued: " + cause.Error()
	if _, err := wp.runner.Abort(wp.ctx, run, reason); err != nil {
		wp.logger.Errorf("Failed to abort execution %s: %v", run.Execution.ID, err)
	}
	return errors.Wrapf(cause, "queue execution %s", run.Execution.ID)
}

// Stop stops accepting runs and waits until every queued run has finished.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started || wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.runChan)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.logger.Infof("Worker pool stopped")
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for run := range wp.runChan {
		wp.execute(run)
	}
}

func (wp *WorkerPool) execute(run *PreparedRun) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorf("Execution %s panicked: %v", run.Execution.ID, r)
			if _, err := wp.runner.Abort(wp.ctx, run, "execution panicked"); err != nil {
				wp.logger.Errorf("Failed to abort execution %s: %v", run.Execution.ID, err)
			}
		}
	}()

	exec, err := wp.runner.Execute(wp.ctx, run, ModeBackground)
	if err != nil {
		wp.logger.Errorf("Execution %s of sequence %s ended with error: %v", run.Execution.ID, run.Sequence.ID, err)
		return
	}
	if exec.Status != models.CompletedExecutionStatus {
		wp.logger.Warnf("Execution %s of sequence %s finished as %s", exec.ID, run.Sequence.ID, exec.Status)
	}
}
