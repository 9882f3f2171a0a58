package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/pipeline"
)

// FileStore persists runs and checkpoints as JSON files under a directory:
//
//	<dir>/<pipelineID>/run-<seq>.json
//	<dir>/<pipelineID>/checkpoints/<name>
//
// It is the zero-dependency default when Postgres is not configured.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run store dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) pipelineDir(pipelineID string) string {
	return filepath.Join(s.dir, pipelineID)
}

func (s *FileStore) SaveRun(ctx context.Context, run *pipeline.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.pipelineDir(run.PipelineID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pipeline dir: %w", err)
	}

	seqs, err := s.runSeqs(dir)
	if err != nil {
		return err
	}
	run.Seq = 1
	if n := len(seqs); n > 0 {
		run.Seq = seqs[n-1] + 1
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("run-%06d.json", run.Seq))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", run.ID, err)
	}

	s.logger.Info("run persisted",
		zap.String("run", run.ID),
		zap.String("pipeline", run.PipelineID),
		zap.Int("seq", run.Seq))
	return nil
}

func (s *FileStore) GetRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read run store dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		runs, err := s.loadRuns(s.pipelineDir(e.Name()))
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			if r.ID == runID {
				return r, nil
			}
		}
	}
	return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
}

func (s *FileStore) LatestRun(ctx context.Context, pipelineID string) (*pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.loadRuns(s.pipelineDir(pipelineID))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, ErrNoPriorRun)
	}
	return runs[len(runs)-1], nil
}

func (s *FileStore) ListRuns(ctx context.Context, pipelineID string) ([]*pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRuns(s.pipelineDir(pipelineID))
}

func (s *FileStore) SaveCheckpoint(ctx context.Context, pipelineID, name string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.pipelineDir(pipelineID), "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) LoadCheckpoint(ctx context.Context, pipelineID, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.pipelineDir(pipelineID), "checkpoints", filepath.Base(name))
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("checkpoint %s: %w", name, ErrNoCheckpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", name, err)
	}
	return blob, nil
}

func (s *FileStore) Close() {}

// runSeqs returns the sorted sequence numbers present in a pipeline dir.
func (s *FileStore) runSeqs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pipeline dir: %w", err)
	}

	var seqs []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		var seq int
		if _, err := fmt.Sscanf(name, "run-%d.json", &seq); err == nil {
			seqs = append(seqs, seq)
		}
	}
	sort.Ints(seqs)
	return seqs, nil
}

func (s *FileStore) loadRuns(dir string) ([]*pipeline.Run, error) {
	seqs, err := s.runSeqs(dir)
	if err != nil {
		return nil, err
	}

	runs := make([]*pipeline.Run, 0, len(seqs))
	for _, seq := range seqs {
		path := filepath.Join(dir, fmt.Sprintf("run-%06d.json", seq))
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read run file %s: %w", path, err)
		}
		var run pipeline.Run
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, fmt.Errorf("parse run file %s: %w", path, err)
		}
		runs = append(runs, &run)
	}
	return runs, nil
}
