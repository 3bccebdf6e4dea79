package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ignatij/seqflow/pkg/dispatch"
	"github.com/ignatij/seqflow/pkg/models"
	"github.com/ignatij/seqflow/pkg/storage"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultDispatchTimeout bounds every outbound call except delays.
	DefaultDispatchTimeout = 30 * time.Second

	// ErrNoSteps is the error message of executions started on an empty sequence.
	ErrNoSteps = "sequence has no steps"
)

// RunMode selects how blocking steps behave.
type RunMode int

const (
	// ModeInteractive runs on behalf of a waiting caller; delays are recorded, not waited.
	ModeInteractive RunMode = iota
	// ModeBackground runs on a worker; delays really wait.
	ModeBackground
)

func (m RunMode) String() string {
	if m == ModeBackground {
		return "background"
	}
	return "interactive"
}

// PreparedRun is a sequence snapshot with its freshly created execution.
// The steps are fixed for the lifetime of the run.
type PreparedRun struct {
	Sequence  models.Sequence
	Steps     []models.Step
	Execution models.Execution
}

// Runner executes sequences step by step, stopping at the first failure.
// It holds no per-run state, so one Runner serves any number of concurrent runs.
type Runner struct {
	store    storage.Store
	registry *dispatch.Registry
	logger   Logger
	ordering OrderingStrategy
	timeout  time.Duration
	observer Observers
	now      func() time.Time
	tracer   trace.Tracer
}

type RunnerOption func(*Runner)

func WithOrdering(strategy OrderingStrategy) RunnerOption {
	return func(r *Runner) { r.ordering = strategy }
}

// WithDispatchTimeout sets the per-dispatch timeout; zero disables it.
func WithDispatchTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

func WithObservers(observers ...Observer) RunnerOption {
	return func(r *Runner) { r.observer = append(r.observer, observers...) }
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(store storage.Store, registry *dispatch.Registry, logger Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = nopLogger{}
	}
	r := &Runner{
		store:    store,
		registry: registry,
		logger:   logger,
		ordering: OrderByIndex,
		timeout:  DefaultDispatchTimeout,
		now:      time.Now,
		tracer:   otel.Tracer("github.com/ignatij/seqflow/pkg/service"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a sequence and returns its finished execution. A failed step
// does not produce an error: it shows up in the execution's status and
// error message. Errors are reserved for a missing sequence and storage failures.
func (r *Runner) Run(ctx context.Context, sequenceID string, input map[string]any, mode RunMode) (*models.Execution, error) {
	run, err := r.Prepare(ctx, sequenceID, input)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, run, mode)
}

// Prepare loads and orders the sequence and creates its execution record in
// the running state.
func (r *Runner) Prepare(ctx context.Context, sequenceID string, input map[string]any) (*PreparedRun, error) {
	seq, err := r.store.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "load sequence %s", sequenceID)
	}

	exec := models.Execution{
		SequenceID: seq.ID,
		Status:     models.RunningExecutionStatus,
		InputData:  input,
		StartedAt:  r.now(),
	}
	id, err := r.store.CreateExecution(ctx, exec)
	if err != nil {
		return nil, errors.Wrapf(err, "create execution for sequence %s", sequenceID)
	}
	exec.ID = id

	return &PreparedRun{
		Sequence:  seq,
		Steps:     r.ordering(seq.Steps),
		Execution: exec,
	}, nil
}

// Execute runs the prepared steps in order.
func (r *Runner) Execute(ctx context.Context, run *PreparedRun, mode RunMode) (*models.Execution, error) {
	exec := run.Execution
	exec.StepResults = make([]models.StepResult, 0, len(run.Steps))

	ctx, span := r.tracer.Start(ctx, "sequence.execute", trace.WithAttributes(
		attribute.String("sequence.id", run.Sequence.ID),
		attribute.String("execution.id", exec.ID),
		attribute.String("run.mode", mode.String()),
	))
	defer span.End()

	r.logger.Infof("Starting execution %s of sequence '%s' (%d steps, %s)", exec.ID, run.Sequence.Name, len(run.Steps), mode)
	r.observer.ExecutionStarted(exec)

	if len(run.Steps) == 0 {
		return r.finish(ctx, run, &exec, models.FailedExecutionStatus, ErrNoSteps)
	}

	// only the latest research output is visible to templates
	var lastResearchResult *string

	for _, step := range run.Steps {
		if err := ctx.Err(); err != nil {
			msg := fmt.Sprintf("Execution cancelled before step %q: %v", step.DisplayName(), err)
			return r.finish(ctx, run, &exec, models.FailedExecutionStatus, msg)
		}

		result := r.executeStep(ctx, exec, step, lastResearchResult, mode)
		exec.StepResults = append(exec.StepResults, result)
		if err := r.store.AppendStepResult(context.WithoutCancel(ctx), exec.ID, result); err != nil {
			r.logger.Errorf("Failed to persist result of step %s in execution %s: %v", step.ID, exec.ID, err)
		}
		r.observer.StepFinished(exec, step, result)

		if result.Status == models.FailedStepStatus {
			msg := fmt.Sprintf("Step %q (%s) failed: %s", step.DisplayName(), step.Kind, result.Error)
			return r.finish(ctx, run, &exec, models.FailedExecutionStatus, msg)
		}
		if step.Kind == models.ResearchStepKind {
			out := result.Result
			lastResearchResult = &out
		}
	}

	return r.finish(ctx, run, &exec, models.CompletedExecutionStatus, "")
}

// Abort finalizes a prepared run that will never execute. Observers still see
// a started/finished pair so they stay balanced.
func (r *Runner) Abort(ctx context.Context, run *PreparedRun, reason string) (*models.Execution, error) {
	exec := run.Execution
	r.observer.ExecutionStarted(exec)
	return r.finish(ctx, run, &exec, models.FailedExecutionStatus, reason)
}

func (r *Runner) executeStep(ctx context.Context, exec models.Execution, step models.Step, lastResearchResult *string, mode RunMode) models.StepResult {
	ctx, span := r.tracer.Start(ctx, "sequence.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.kind", string(step.Kind)),
	))
	defer span.End()

	result := models.StepResult{
		StepID:    step.ID,
		StepKind:  step.Kind,
		Status:    models.RunningStepStatus,
		StartedAt: r.now(),
	}

	output, err := r.dispatch(ctx, exec, step, lastResearchResult, mode)
	if err != nil {
		result.Status = models.FailedStepStatus
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, result.Error)
		r.logger.Errorf("Step %s (%s) of execution %s failed: %v", step.ID, step.Kind, exec.ID, err)
	} else {
		result.Status = models.CompletedStepStatus
		result.Result = output
		r.logger.Infof("Step %s (%s) of execution %s completed", step.ID, step.Kind, exec.ID)
	}

	result.CompletedAt = r.now()
	result.DurationMs = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	return result
}

func (r *Runner) dispatch(ctx context.Context, exec models.Execution, step models.Step, lastResearchResult *string, mode RunMode) (string, error) {
	if step.Kind.IsTrigger() {
		return "", nil
	}

	d, ok := r.registry.Lookup(step.Kind)
	if !ok {
		r.logger.Warnf("Unknown step kind '%s' in step %s of execution %s, skipping", step.Kind, step.ID, exec.ID)
		return fmt.Sprintf("Unknown step kind: %s", step.Kind), nil
	}

	resolved := step
	if tmpl, ok := step.Config.(models.Interpolator); ok {
		resolved.Config = tmpl.Interpolate(lastResearchResult)
	}

	dctx := ctx
	if r.timeout > 0 && step.Kind != models.DelayStepKind {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := d.Dispatch(dctx, dispatch.Request{
		ExecutionID: exec.ID,
		Step:        resolved,
		Input:       exec.InputData,
		MayBlock:    mode == ModeBackground,
	})
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", errors.Errorf("%s timed out after %s", step.Kind, r.timeout)
		}
		return "", err
	}
	return out, nil
}

func (r *Runner) finish(ctx context.Context, run *PreparedRun, exec *models.Execution, status models.ExecutionStatus, errorMessage string) (*models.Execution, error) {
	completedAt := r.now()
	exec.Status = status
	exec.ErrorMessage = errorMessage
	exec.CompletedAt = &completedAt
	exec.DurationMs = completedAt.Sub(exec.StartedAt).Milliseconds()

	// persistence must survive a cancelled run
	persistCtx := context.WithoutCancel(ctx)
	var err error
	if ferr := r.store.FinalizeExecution(persistCtx, exec.ID, status, errorMessage, completedAt); ferr != nil {
		r.logger.Errorf("Failed to finalize execution %s: %v", exec.ID, ferr)
		err = errors.Wrapf(ferr, "finalize execution %s", exec.ID)
	}
	if status == models.CompletedExecutionStatus {
		if merr := r.store.MarkSequenceRun(persistCtx, run.Sequence.ID, completedAt); merr != nil {
			r.logger.Errorf("Failed to record last run of sequence %s: %v", run.Sequence.ID, merr)
		}
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("execution.status", string(status)))
	if status == models.FailedExecutionStatus {
		span.SetStatus(codes.Error, errorMessage)
		r.logger.Errorf("Execution %s of sequence '%s' failed after %dms: %s", exec.ID, run.Sequence.Name, exec.DurationMs, errorMessage)
	} else {
		r.logger.Infof("Execution %s of sequence '%s' completed in %dms", exec.ID, run.Sequence.Name, exec.DurationMs)
	}

	r.observer.ExecutionFinished(*exec)
	return exec, err
}
