package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/capability"
)

// Invoker dispatches a composed invocation to the capability bound to a
// worker. Satisfied by capability.Router.
type Invoker interface {
	Invoke(ctx context.Context, workerID string, inv *capability.Invocation) (*capability.Result, error)
}

// Executor runs a pipeline's tasks strictly sequentially in declared order.
// It owns the run state machine: one invocation per task per run, first
// failure aborts, no downstream task starts after an abort.
type Executor struct {
	pipeline *Pipeline
	invoker  Invoker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewExecutor creates an executor. taskTimeout bounds each worker
// invocation; zero means no per-task deadline.
func NewExecutor(p *Pipeline, invoker Invoker, taskTimeout time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		pipeline: p,
		invoker:  invoker,
		timeout:  taskTimeout,
		logger:   logger,
	}
}

// Execute runs every task once, in declared order. On failure it returns
// the partial run together with a *TaskError identifying the aborting task;
// the run is usable for reporting either way.
func (e *Executor) Execute(ctx context.Context, inputs Inputs) (*Run, error) {
	run := &Run{
		ID:         uuid.New().String(),
		PipelineID: e.pipeline.ID,
		Inputs:     inputs,
		Status:     RunRunning,
		StartedAt:  time.Now(),
	}

	e.logger.Info("pipeline run started",
		zap.String("pipeline", e.pipeline.ID),
		zap.String("run", run.ID),
		zap.Int("tasks", len(e.pipeline.Tasks)))

	err := e.resume(ctx, run, 0)
	return run, err
}

// resume executes tasks from position `from` onward, appending results to
// run. Results for earlier tasks must already be present; replay uses this
// to reuse a prior run's prefix.
func (e *Executor) resume(ctx context.Context, run *Run, from int) error {
	for i := from; i < len(e.pipeline.Tasks); i++ {
		// Cooperative cancellation boundary: between tasks, never mid-task.
		if err := ctx.Err(); err != nil {
			run.Status = RunAborted
			run.FinishedAt = time.Now()
			return fmt.Errorf("pipeline %s cancelled before task %q: %w",
				e.pipeline.ID, e.pipeline.Tasks[i].ID, err)
		}

		task := e.pipeline.Tasks[i]
		result, err := e.executeTask(ctx, task, run)
		run.Results = append(run.Results, result)

		if err != nil {
			run.Status = RunAborted
			run.FinishedAt = time.Now()
			e.logger.Error("pipeline run aborted",
				zap.String("run", run.ID),
				zap.String("task", task.ID),
				zap.Error(err))
			return &TaskError{TaskID: task.ID, Err: err}
		}
	}

	run.Status = RunCompleted
	run.FinishedAt = time.Now()
	e.logger.Info("pipeline run completed",
		zap.String("run", run.ID),
		zap.Int("tasks", len(run.Results)))
	return nil
}

// executeTask composes instructions, performs the single worker invocation,
// and produces the task's result.
func (e *Executor) executeTask(ctx context.Context, task TaskSpec, run *Run) (TaskResult, error) {
	result := TaskResult{
		TaskID:    task.ID,
		WorkerID:  task.Worker,
		Status:    TaskRunning,
		StartedAt: time.Now(),
	}

	fail := func(err error) (TaskResult, error) {
		result.Status = TaskFailed
		result.Error = err.Error()
		result.CompletedAt = time.Now()
		return result, err
	}

	spec, err := e.pipeline.Workers.Resolve(task.Worker)
	if err != nil {
		return fail(err)
	}

	instructions, err := ComposeInstructions(task, run.Inputs, run)
	if err != nil {
		return fail(err)
	}

	e.logger.Info("executing task",
		zap.String("run", run.ID),
		zap.String("task", task.ID),
		zap.String("worker", task.Worker))
	if spec.Verbose {
		e.logger.Debug("composed instructions",
			zap.String("task", task.ID),
			zap.String("instructions", instructions))
	}

	invCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		invCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// Exactly one invocation per task per run. Retrying here could
	// duplicate side effects of capabilities that act on the world.
	out, err := e.invoker.Invoke(invCtx, task.Worker, &capability.Invocation{
		Role:           spec.Role,
		Goal:           spec.Goal,
		Backstory:      spec.Backstory,
		Instructions:   instructions,
		ExpectedOutput: task.ExpectedOutput,
	})
	if err != nil {
		if !errors.Is(err, capability.ErrTimeout) &&
			errors.Is(invCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: task %q exceeded %s", capability.ErrTimeout, task.ID, e.timeout)
		}
		return fail(err)
	}

	result.Status = TaskSucceeded
	result.Output = out.Output
	result.CompletedAt = time.Now()
	return result, nil
}

// Replay starts a new run that reuses the prior run's recorded results for
// every task before position `from` and executes the rest fresh. Reused
// results are copied verbatim; the prior run is never mutated.
func (e *Executor) Replay(ctx context.Context, prior *Run, from int) (*Run, error) {
	if from < 0 || from > len(e.pipeline.Tasks) {
		return nil, fmt.Errorf("replay position %d out of range", from)
	}

	run := &Run{
		ID:         uuid.New().String(),
		PipelineID: e.pipeline.ID,
		Inputs:     prior.Inputs,
		Results:    append([]TaskResult(nil), prior.Results[:from]...),
		Status:     RunRunning,
		StartedAt:  time.Now(),
	}

	e.logger.Info("pipeline replay started",
		zap.String("pipeline", e.pipeline.ID),
		zap.String("run", run.ID),
		zap.String("prior_run", prior.ID),
		zap.Int("reused_tasks", from))

	err := e.resume(ctx, run, from)
	return run, err
}
