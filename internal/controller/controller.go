package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/capability"
	"github.com/crewline/crewline/internal/pipeline"
	"github.com/crewline/crewline/internal/runstore"
)

// Controller wraps the pipeline executor with the four run modes: run,
// train, replay, and test. All modes share the same executor core.
type Controller struct {
	pipe   *pipeline.Pipeline
	exec   *pipeline.Executor
	store  runstore.Store
	logger *zap.Logger
}

// New creates a controller for one pipeline.
func New(p *pipeline.Pipeline, exec *pipeline.Executor, store runstore.Store, logger *zap.Logger) *Controller {
	return &Controller{pipe: p, exec: exec, store: store, logger: logger}
}

// Run executes the pipeline once and persists the run. On abort the partial
// run is still persisted and returned alongside the error, with the failing
// task attached as the cause.
func (c *Controller) Run(ctx context.Context, inputs pipeline.Inputs) (*pipeline.Run, error) {
	run, execErr := c.exec.Execute(ctx, inputs)

	if err := c.store.SaveRun(ctx, run); err != nil {
		c.logger.Warn("failed to persist run", zap.String("run", run.ID), zap.Error(err))
		if execErr == nil {
			return run, fmt.Errorf("persist run %s: %w", run.ID, err)
		}
	}

	if execErr != nil {
		return run, fmt.Errorf("pipeline %s run aborted: %w", c.pipe.ID, execErr)
	}
	return run, nil
}

// Replay resumes the most recent persisted run: every task before fromTaskID
// reuses its recorded result verbatim, fromTaskID and all downstream tasks
// execute fresh. The new run supersedes nothing; it is persisted with its
// own sequence number.
func (c *Controller) Replay(ctx context.Context, fromTaskID string) (*pipeline.Run, error) {
	pos, err := c.pipe.Position(fromTaskID)
	if err != nil {
		return nil, err
	}

	prior, err := c.store.LatestRun(ctx, c.pipe.ID)
	if err != nil {
		return nil, err
	}

	// The prior run must carry a succeeded result for every task ahead of
	// the replay point, or downstream context composition cannot be satisfied.
	for i := 0; i < pos; i++ {
		taskID := c.pipe.Tasks[i].ID
		tr, ok := prior.Result(taskID)
		if !ok || tr.Status != pipeline.TaskSucceeded {
			return nil, fmt.Errorf("prior run %s has no usable result for task %q: %w",
				prior.ID, taskID, pipeline.ErrMissingUpstream)
		}
	}

	run, err := c.exec.Replay(ctx, prior, pos)
	if run == nil {
		return nil, err
	}

	if saveErr := c.store.SaveRun(ctx, run); saveErr != nil {
		c.logger.Warn("failed to persist replay run", zap.String("run", run.ID), zap.Error(saveErr))
		if err == nil {
			return run, fmt.Errorf("persist run %s: %w", run.ID, saveErr)
		}
	}

	if err != nil {
		return run, fmt.Errorf("replay of %s from %q aborted: %w", c.pipe.ID, fromTaskID, err)
	}

	c.logger.Info("replay completed",
		zap.String("run", run.ID),
		zap.String("from_task", fromTaskID),
		zap.String("prior_run", prior.ID))
	return run, nil
}

// TrainingReport summarizes a training session.
type TrainingReport struct {
	PipelineID string          `json:"pipeline_id"`
	Iterations int             `json:"iterations"`
	Checkpoint string          `json:"checkpoint"`
	Records    []TrainedRecord `json:"records"`
}

// TrainedRecord is one training iteration's accumulated state.
type TrainedRecord struct {
	Iteration   int           `json:"iteration"`
	RunID       string        `json:"run_id"`
	FinalOutput string        `json:"final_output"`
	Duration    time.Duration `json:"duration"`
	TrainedAt   time.Time     `json:"trained_at"`
}

// Train executes the pipeline n times, persisting accumulated learning state
// to the named checkpoint after every run. It fails fast when n < 1 or the
// checkpoint target is unwritable, and a run failure aborts the session.
func (c *Controller) Train(ctx context.Context, n int, checkpoint string, inputs pipeline.Inputs) (*TrainingReport, error) {
	if n < 1 {
		return nil, fmt.Errorf("train iterations must be >= 1, got %d", n)
	}
	if checkpoint == "" {
		return nil, fmt.Errorf("train checkpoint name must not be empty")
	}

	// Accumulate on top of any prior session with the same checkpoint.
	var records []TrainedRecord
	if blob, err := c.store.LoadCheckpoint(ctx, c.pipe.ID, checkpoint); err == nil {
		if err := json.Unmarshal(blob, &records); err != nil {
			return nil, fmt.Errorf("checkpoint %s is corrupt: %w", checkpoint, err)
		}
	}

	// Writability preflight: a bad checkpoint target should fail before any
	// worker is invoked.
	if err := c.persistRecords(ctx, checkpoint, records); err != nil {
		return nil, err
	}

	for i := 1; i <= n; i++ {
		c.logger.Info("training iteration",
			zap.String("pipeline", c.pipe.ID),
			zap.Int("iteration", i),
			zap.Int("total", n))

		run, err := c.Run(ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("training iteration %d: %w", i, err)
		}

		records = append(records, TrainedRecord{
			Iteration:   len(records) + 1,
			RunID:       run.ID,
			FinalOutput: run.FinalOutput(),
			Duration:    run.FinishedAt.Sub(run.StartedAt),
			TrainedAt:   run.FinishedAt,
		})
		if err := c.persistRecords(ctx, checkpoint, records); err != nil {
			return nil, fmt.Errorf("training iteration %d: %w", i, err)
		}
	}

	return &TrainingReport{
		PipelineID: c.pipe.ID,
		Iterations: n,
		Checkpoint: checkpoint,
		Records:    records,
	}, nil
}

func (c *Controller) persistRecords(ctx context.Context, checkpoint string, records []TrainedRecord) error {
	blob, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal training state: %w", err)
	}
	if err := c.store.SaveCheckpoint(ctx, c.pipe.ID, checkpoint, blob); err != nil {
		return fmt.Errorf("checkpoint %s unwritable: %w", checkpoint, err)
	}
	return nil
}

// TestReport aggregates evaluator scores across test iterations.
type TestReport struct {
	PipelineID string       `json:"pipeline_id"`
	Iterations int          `json:"iterations"`
	Scores     []float64    `json:"scores"`
	MeanScore  float64      `json:"mean_score"`
	Results    []TestResult `json:"results"`
}

// TestResult is one scored iteration. Failed runs carry a zero score and the
// failure detail; they are recorded, never omitted.
type TestResult struct {
	Iteration int     `json:"iteration"`
	RunID     string  `json:"run_id,omitempty"`
	Score     float64 `json:"score"`
	Output    string  `json:"output,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Test executes the pipeline n times and scores each run's aggregated output
// with the evaluator. Unlike run, a pipeline failure here is absorbed: it is
// recorded as a failing iteration and the remaining iterations proceed,
// because the purpose of test is aggregate evaluation.
func (c *Controller) Test(ctx context.Context, n int, scorer capability.Scorer, inputs pipeline.Inputs) (*TestReport, error) {
	if n < 1 {
		return nil, fmt.Errorf("test iterations must be >= 1, got %d", n)
	}
	if scorer == nil {
		return nil, fmt.Errorf("test requires an evaluator")
	}

	criteria := c.pipe.Tasks[len(c.pipe.Tasks)-1].ExpectedOutput

	report := &TestReport{PipelineID: c.pipe.ID, Iterations: n}
	var total float64
	for i := 1; i <= n; i++ {
		// Cancellation still propagates between iterations.
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("test cancelled at iteration %d: %w", i, err)
		}

		result := TestResult{Iteration: i}
		run, err := c.Run(ctx, inputs)
		if run != nil {
			result.RunID = run.ID
		}
		if err != nil {
			c.logger.Warn("test iteration failed",
				zap.Int("iteration", i), zap.Error(err))
			result.Error = err.Error()
		} else {
			result.Output = run.FinalOutput()
			score, scoreErr := scorer.Score(ctx, result.Output, criteria)
			if scoreErr != nil {
				c.logger.Warn("evaluator failed",
					zap.Int("iteration", i), zap.Error(scoreErr))
				result.Error = scoreErr.Error()
			} else {
				result.Score = score
			}
		}

		total += result.Score
		report.Scores = append(report.Scores, result.Score)
		report.Results = append(report.Results, result)
	}

	report.MeanScore = total / float64(n)
	return report, nil
}
