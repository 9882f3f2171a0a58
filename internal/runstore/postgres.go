package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/pipeline"
)

// Postgres persists runs and checkpoints in PostgreSQL. Task results are
// stored as JSONB so the run record stays opaque to the schema.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pgx pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("migration applied", zap.String("file", f))
	}
	return nil
}

func (s *Postgres) SaveRun(ctx context.Context, run *pipeline.Run) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshal results for run %s: %w", run.ID, err)
	}
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs for run %s: %w", run.ID, err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO runs (id, pipeline_id, seq, inputs, results, status, started_at, finished_at)
		VALUES ($1, $2,
			COALESCE((SELECT MAX(seq) FROM runs WHERE pipeline_id = $2), 0) + 1,
			$3, $4, $5, $6, $7)
		RETURNING seq`,
		run.ID, run.PipelineID, inputs, results, string(run.Status),
		run.StartedAt, run.FinishedAt,
	).Scan(&run.Seq)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	s.logger.Info("run persisted",
		zap.String("run", run.ID),
		zap.String("pipeline", run.PipelineID),
		zap.Int("seq", run.Seq))
	return nil
}

func (s *Postgres) GetRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, pipeline_id, seq, inputs, results, status, started_at, finished_at
		FROM runs WHERE id = $1`, runID)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

func (s *Postgres) LatestRun(ctx context.Context, pipelineID string) (*pipeline.Run, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, pipeline_id, seq, inputs, results, status, started_at, finished_at
		FROM runs WHERE pipeline_id = $1
		ORDER BY seq DESC LIMIT 1`, pipelineID)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, ErrNoPriorRun)
	}
	if err != nil {
		return nil, fmt.Errorf("latest run for %s: %w", pipelineID, err)
	}
	return run, nil
}

func (s *Postgres) ListRuns(ctx context.Context, pipelineID string) ([]*pipeline.Run, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, pipeline_id, seq, inputs, results, status, started_at, finished_at
		FROM runs WHERE pipeline_id = $1
		ORDER BY seq ASC`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", pipelineID, err)
	}
	defer rows.Close()

	var runs []*pipeline.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Postgres) SaveCheckpoint(ctx context.Context, pipelineID, name string, blob []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO checkpoints (pipeline_id, name, blob, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (pipeline_id, name) DO UPDATE SET
			blob = EXCLUDED.blob,
			updated_at = NOW()`,
		pipelineID, name, blob)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}

func (s *Postgres) LoadCheckpoint(ctx context.Context, pipelineID, name string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx, `
		SELECT blob FROM checkpoints WHERE pipeline_id = $1 AND name = $2`,
		pipelineID, name).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %s: %w", name, ErrNoCheckpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	return blob, nil
}

// Close shuts down the connection pool.
func (s *Postgres) Close() {
	s.db.Close()
}

func scanRun(row pgx.Row) (*pipeline.Run, error) {
	var run pipeline.Run
	var inputs, results []byte
	var status string
	if err := row.Scan(&run.ID, &run.PipelineID, &run.Seq,
		&inputs, &results, &status, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	run.Status = pipeline.RunStatus(status)
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &run.Inputs); err != nil {
			return nil, fmt.Errorf("parse inputs: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}
	}
	return &run, nil
}
