package pipeline

import "time"

// TaskStatus tracks per-task execution state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// RunStatus tracks pipeline-level execution state.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// TaskSpec is a declarative unit of work bound to one worker. Context lists
// upstream task IDs whose outputs are injected into this task's instructions;
// they must be declared earlier in pipeline order.
type TaskSpec struct {
	ID             string   `yaml:"id" json:"id"`
	Description    string   `yaml:"description" json:"description"`
	ExpectedOutput string   `yaml:"expected_output" json:"expected_output"`
	Worker         string   `yaml:"worker" json:"worker"`
	Context        []string `yaml:"context,omitempty" json:"context,omitempty"`
}

// Inputs are the values supplied once at run start. Template placeholders
// referencing missing keys resolve to the empty string.
type Inputs map[string]any

// TaskResult is the outcome of exactly one task invocation.
type TaskResult struct {
	TaskID      string     `json:"task_id"`
	WorkerID    string     `json:"worker_id"`
	Output      string     `json:"output"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// Run is one complete pipeline execution: an ordered sequence of task
// results plus the overall status. The final output is by convention the
// last task's output.
type Run struct {
	ID         string       `json:"id"`
	PipelineID string       `json:"pipeline_id"`
	Seq        int          `json:"seq"`
	Inputs     Inputs       `json:"inputs"`
	Results    []TaskResult `json:"results"`
	Status     RunStatus    `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Result returns the result for a task ID, if the task executed in this run.
func (r *Run) Result(taskID string) (TaskResult, bool) {
	for _, tr := range r.Results {
		if tr.TaskID == taskID {
			return tr, true
		}
	}
	return TaskResult{}, false
}

// FinalOutput returns the last succeeded task's output, or "" for an
// aborted run with no completed tasks.
func (r *Run) FinalOutput() string {
	for i := len(r.Results) - 1; i >= 0; i-- {
		if r.Results[i].Status == TaskSucceeded {
			return r.Results[i].Output
		}
	}
	return ""
}
