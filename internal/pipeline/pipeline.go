package pipeline

import (
	"fmt"

	"github.com/crewline/crewline/internal/worker"
)

// Pipeline is a validated, immutable ordered collection of tasks bound to
// registered workers. Declared order is the topological order: every task's
// context references point strictly backwards, so dependency cycles cannot
// exist in a pipeline that passes validation.
type Pipeline struct {
	ID      string
	Workers *worker.Registry
	Tasks   []TaskSpec

	index map[string]int // task ID -> position in declared order
}

// New validates task definitions against the worker registry and declared
// order. Any violation fails with ErrInvalidPipeline before execution can
// start; this is a load-time contract.
func New(id string, workers *worker.Registry, tasks []TaskSpec) (*Pipeline, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty pipeline id", ErrInvalidPipeline)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q declares no tasks", ErrInvalidPipeline, id)
	}

	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: task at position %d has no id", ErrInvalidPipeline, i)
		}
		if _, dup := index[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate task id %q", ErrInvalidPipeline, t.ID)
		}
		if _, err := workers.Resolve(t.Worker); err != nil {
			return nil, fmt.Errorf("%w: task %q: %v", ErrInvalidPipeline, t.ID, err)
		}
		for _, dep := range t.Context {
			// Only tasks declared earlier are in the index at this point;
			// forward references, self references, and unknown IDs all land here.
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf(
					"%w: task %q references %q, which is not declared before it",
					ErrInvalidPipeline, t.ID, dep)
			}
		}
		index[t.ID] = i
	}

	return &Pipeline{ID: id, Workers: workers, Tasks: tasks, index: index}, nil
}

// Task returns the spec for a task ID.
func (p *Pipeline) Task(id string) (TaskSpec, error) {
	i, ok := p.index[id]
	if !ok {
		return TaskSpec{}, fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	return p.Tasks[i], nil
}

// Position returns a task's index in declared order.
func (p *Pipeline) Position(id string) (int, error) {
	i, ok := p.index[id]
	if !ok {
		return 0, fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}
	return i, nil
}
