package runstore

import (
	"context"
	"errors"

	"github.com/crewline/crewline/internal/pipeline"
)

// Store persists pipeline runs and training checkpoints. Runs are opaque
// records keyed by pipeline identity plus run sequence number; checkpoints
// are opaque blobs owned by the worker-capability collaborator.
type Store interface {
	// SaveRun persists a run, assigning it the next sequence number for
	// its pipeline.
	SaveRun(ctx context.Context, run *pipeline.Run) error
	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*pipeline.Run, error)
	// LatestRun returns the most recently persisted run for a pipeline,
	// or ErrNoPriorRun if none exists.
	LatestRun(ctx context.Context, pipelineID string) (*pipeline.Run, error)
	// ListRuns returns a pipeline's runs in sequence order.
	ListRuns(ctx context.Context, pipelineID string) ([]*pipeline.Run, error)
	// SaveCheckpoint persists an opaque training blob.
	SaveCheckpoint(ctx context.Context, pipelineID, name string, blob []byte) error
	// LoadCheckpoint retrieves a previously saved blob, or ErrNoCheckpoint.
	LoadCheckpoint(ctx context.Context, pipelineID, name string) ([]byte, error)
	Close()
}

var (
	// ErrNoPriorRun is returned when replay has no recorded run to source
	// reused results from.
	ErrNoPriorRun = errors.New("no prior run recorded")

	// ErrRunNotFound is returned for an unknown run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoCheckpoint is returned when a named checkpoint does not exist.
	ErrNoCheckpoint = errors.New("checkpoint not found")
)
