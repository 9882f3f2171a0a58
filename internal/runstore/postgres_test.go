package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/pipeline"
)

// startPostgres spins up a throwaway PostgreSQL container. Skips the test
// when Docker is unavailable.
func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("crewline_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("docker unavailable, skipping postgres store test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	store, err := NewPostgres(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(ctx, filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestPostgresRunLifecycle(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	if _, err := s.LatestRun(ctx, "codereview"); !errors.Is(err, ErrNoPriorRun) {
		t.Fatalf("got %v, want ErrNoPriorRun", err)
	}

	first := sampleRun("11111111-1111-1111-1111-111111111111")
	second := sampleRun("22222222-2222-2222-2222-222222222222")
	if err := s.SaveRun(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveRun(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("sequence numbers %d, %d; want 1, 2", first.Seq, second.Seq)
	}

	latest, err := s.LatestRun(ctx, "codereview")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest is %s, want %s", latest.ID, second.ID)
	}
	if len(latest.Results) != 1 || latest.Results[0].Status != pipeline.TaskSucceeded {
		t.Errorf("results not preserved: %+v", latest.Results)
	}

	got, err := s.GetRun(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Inputs["codebase_path"] != "/repo" {
		t.Errorf("inputs not preserved: %+v", got.Inputs)
	}

	runs, err := s.ListRuns(ctx, "codereview")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].Seq != 1 {
		t.Errorf("list out of sequence order: %+v", runs)
	}

	if _, err := s.GetRun(ctx, "33333333-3333-3333-3333-333333333333"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}

func TestPostgresCheckpoints(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	if _, err := s.LoadCheckpoint(ctx, "codereview", "train"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("got %v, want ErrNoCheckpoint", err)
	}

	if err := s.SaveCheckpoint(ctx, "codereview", "train", []byte("v1")); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "codereview", "train", []byte("v2")); err != nil {
		t.Fatalf("upsert checkpoint: %v", err)
	}

	blob, err := s.LoadCheckpoint(ctx, "codereview", "train")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if string(blob) != "v2" {
		t.Errorf("got %s, want v2", blob)
	}
}
