package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/capability"
)

// scriptedInvoker is a fake capability router: fixed outputs per worker,
// optional error injection, and a record of every invocation.
type scriptedInvoker struct {
	outputs map[string]string // workerID -> output
	failOn  string            // workerID that fails
	failErr error
	delay   time.Duration
	calls   []recordedCall
}

type recordedCall struct {
	WorkerID     string
	Instructions string
}

func (f *scriptedInvoker) Invoke(ctx context.Context, workerID string, inv *capability.Invocation) (*capability.Result, error) {
	f.calls = append(f.calls, recordedCall{WorkerID: workerID, Instructions: inv.Instructions})
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", capability.ErrTimeout, ctx.Err())
		}
	}
	if workerID == f.failOn {
		err := f.failErr
		if err == nil {
			err = fmt.Errorf("%w: scripted failure", capability.ErrInvocation)
		}
		return nil, err
	}
	out, ok := f.outputs[workerID]
	if !ok {
		out = "output from " + workerID
	}
	return &capability.Result{Output: out}, nil
}

func threeTaskPipeline(t *testing.T) *Pipeline {
	t.Helper()
	reg := testRegistry(t, "reviewer", "analyst", "architect")
	p, err := New("codereview", reg, []TaskSpec{
		{ID: "review", Worker: "reviewer", Description: "review {codebase_path}"},
		{ID: "security", Worker: "analyst", Description: "audit", Context: []string{"review"}},
		{ID: "report", Worker: "architect", Description: "report", Context: []string{"review", "security"}},
	})
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	return p
}

func TestExecuteRunsTasksInDeclaredOrder(t *testing.T) {
	p := threeTaskPipeline(t)
	inv := &scriptedInvoker{outputs: map[string]string{
		"reviewer":  "review findings",
		"analyst":   "security findings",
		"architect": "final report",
	}}
	exec := NewExecutor(p, inv, 0, zap.NewNop())

	run, err := exec.Execute(context.Background(), Inputs{"codebase_path": "/repo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != RunCompleted {
		t.Errorf("run status %s, want completed", run.Status)
	}
	if len(run.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(run.Results))
	}

	wantOrder := []string{"reviewer", "analyst", "architect"}
	for i, call := range inv.calls {
		if call.WorkerID != wantOrder[i] {
			t.Errorf("call %d went to %s, want %s", i, call.WorkerID, wantOrder[i])
		}
	}

	// The analyst sees the reviewer's output; the architect sees both.
	if !strings.Contains(inv.calls[1].Instructions, "review findings") {
		t.Errorf("analyst instructions missing upstream context: %q", inv.calls[1].Instructions)
	}
	if !strings.Contains(inv.calls[2].Instructions, "review findings") ||
		!strings.Contains(inv.calls[2].Instructions, "security findings") {
		t.Errorf("architect instructions missing upstream context: %q", inv.calls[2].Instructions)
	}

	// Input substitution reached the first task.
	if !strings.Contains(inv.calls[0].Instructions, "/repo") {
		t.Errorf("reviewer instructions missing input substitution: %q", inv.calls[0].Instructions)
	}

	if run.FinalOutput() != "final report" {
		t.Errorf("final output %q, want %q", run.FinalOutput(), "final report")
	}
}

func TestExecuteAbortsOnFirstFailure(t *testing.T) {
	p := threeTaskPipeline(t)
	inv := &scriptedInvoker{failOn: "analyst"}
	exec := NewExecutor(p, inv, 0, zap.NewNop())

	run, err := exec.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("got %T, want *TaskError", err)
	}
	if taskErr.TaskID != "security" {
		t.Errorf("aborting task %q, want security", taskErr.TaskID)
	}
	if !errors.Is(err, capability.ErrInvocation) {
		t.Errorf("cause %v, want ErrInvocation", err)
	}

	if run.Status != RunAborted {
		t.Errorf("run status %s, want aborted", run.Status)
	}
	// Exactly two results: first succeeded, second failed, third never ran.
	if len(run.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(run.Results))
	}
	if run.Results[0].Status != TaskSucceeded {
		t.Errorf("first result %s, want succeeded", run.Results[0].Status)
	}
	if run.Results[1].Status != TaskFailed {
		t.Errorf("second result %s, want failed", run.Results[1].Status)
	}
	if len(inv.calls) != 2 {
		t.Errorf("got %d invocations, want 2 (third task must never start)", len(inv.calls))
	}
}

func TestExecuteSingleInvocationPerTask(t *testing.T) {
	p := threeTaskPipeline(t)
	inv := &scriptedInvoker{}
	exec := NewExecutor(p, inv, 0, zap.NewNop())

	if _, err := exec.Execute(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]int{}
	for _, c := range inv.calls {
		seen[c.WorkerID]++
	}
	for w, n := range seen {
		if n != 1 {
			t.Errorf("worker %s invoked %d times, want exactly 1", w, n)
		}
	}
}

func TestExecuteCancelledBetweenTasks(t *testing.T) {
	p := threeTaskPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	inv := &cancellingInvoker{inner: &scriptedInvoker{}, cancelAfter: 1, cancel: cancel}
	exec := NewExecutor(p, inv, 0, zap.NewNop())

	run, err := exec.Execute(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if run.Status != RunAborted {
		t.Errorf("run status %s, want aborted", run.Status)
	}
	// The first task finished before the cancellation boundary was honored.
	if len(run.Results) != 1 {
		t.Errorf("got %d results, want 1", len(run.Results))
	}
}

// cancellingInvoker cancels the run's context after n successful invocations.
type cancellingInvoker struct {
	inner       *scriptedInvoker
	cancelAfter int
	cancel      context.CancelFunc
	n           int
}

func (c *cancellingInvoker) Invoke(ctx context.Context, workerID string, inv *capability.Invocation) (*capability.Result, error) {
	res, err := c.inner.Invoke(ctx, workerID, inv)
	c.n++
	if c.n == c.cancelAfter {
		c.cancel()
	}
	return res, err
}

func TestExecuteTaskTimeout(t *testing.T) {
	p := threeTaskPipeline(t)
	inv := &scriptedInvoker{delay: 50 * time.Millisecond}
	exec := NewExecutor(p, inv, 5*time.Millisecond, zap.NewNop())

	run, err := exec.Execute(context.Background(), nil)
	if !errors.Is(err, capability.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if run.Status != RunAborted {
		t.Errorf("run status %s, want aborted", run.Status)
	}
	if len(run.Results) != 1 || run.Results[0].Status != TaskFailed {
		t.Errorf("expected exactly one failed result, got %+v", run.Results)
	}
}

func TestReplayReusesPrefixAndExecutesRest(t *testing.T) {
	p := threeTaskPipeline(t)
	first := &scriptedInvoker{outputs: map[string]string{
		"reviewer":  "original review",
		"analyst":   "original security",
		"architect": "original report",
	}}
	exec := NewExecutor(p, first, 0, zap.NewNop())

	prior, err := exec.Execute(context.Background(), Inputs{"codebase_path": "/repo"})
	if err != nil {
		t.Fatalf("prior run: %v", err)
	}

	second := &scriptedInvoker{outputs: map[string]string{
		"analyst":   "fresh security",
		"architect": "fresh report",
	}}
	exec2 := NewExecutor(p, second, 0, zap.NewNop())

	pos, _ := p.Position("security")
	run, err := exec2.Replay(context.Background(), prior, pos)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	// The review result is reused byte-for-byte; reviewer is never re-invoked.
	if run.Results[0] != prior.Results[0] {
		t.Errorf("reused result differs from prior:\n got %+v\nwant %+v", run.Results[0], prior.Results[0])
	}
	for _, c := range second.calls {
		if c.WorkerID == "reviewer" {
			t.Error("reviewer re-invoked during replay")
		}
	}
	if run.Results[1].Output != "fresh security" || run.Results[2].Output != "fresh report" {
		t.Errorf("downstream tasks not freshly executed: %+v", run.Results)
	}
	if run.ID == prior.ID {
		t.Error("replay run must have its own ID")
	}
	if run.Status != RunCompleted {
		t.Errorf("run status %s, want completed", run.Status)
	}
}
