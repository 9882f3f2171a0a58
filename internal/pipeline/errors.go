package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPipeline is returned at load time for dependency or
	// reference integrity violations. A pipeline that fails validation
	// never begins executing.
	ErrInvalidPipeline = errors.New("invalid pipeline definition")

	// ErrMissingUpstream indicates an upstream task has no result when a
	// downstream task composes its instructions. Declared order rules this
	// out, so hitting it means a defect in the executor, not a user error.
	ErrMissingUpstream = errors.New("missing upstream task result")

	// ErrUnknownTask is returned when a task ID is not part of the pipeline.
	ErrUnknownTask = errors.New("unknown task id")
)

// TaskError wraps the failure of a single task. It is the cause attached to
// an aborted run.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
