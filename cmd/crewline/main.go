package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/capability"
	"github.com/crewline/crewline/internal/config"
	"github.com/crewline/crewline/internal/controller"
	"github.com/crewline/crewline/internal/pipeline"
	"github.com/crewline/crewline/internal/runstore"
)

var (
	cfgPath   string
	setInputs []string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "crewline",
		Short:         "Sequential agent pipeline orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default $CONFIG_PATH or configs/crewline.json)")
	root.PersistentFlags().StringArrayVar(&setInputs, "set", nil, "override a pipeline input, as key=value (repeatable)")

	root.AddCommand(newRunCmd(), newTrainCmd(), newReplayCmd(), newTestCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles the wired collaborators every mode shares.
type app struct {
	cfg    *config.Config
	pipe   *pipeline.Pipeline
	router *capability.Router
	store  runstore.Store
	ctrl   *controller.Controller
	logger *zap.Logger
}

// buildApp loads configuration and wires the pipeline, capabilities, run
// store, and controller. Load-time validation happens here: a malformed
// pipeline never reaches execution.
func buildApp(ctx context.Context) (*app, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/crewline.json"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if cfg.Server.LogLevel == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pipe, err := config.LoadPipeline(cfg.Pipeline, logger)
	if err != nil {
		return nil, err
	}

	router := capability.NewRouter(logger)
	for _, cc := range cfg.Capabilities {
		capCfg := capability.Config{
			ID: cc.ID, Type: cc.Type, Name: cc.Name,
			Endpoint: cc.Endpoint, APIKey: cc.APIKey, Model: cc.Model,
			Timeout: time.Duration(cc.TimeoutSeconds) * time.Second,
		}
		switch cc.Type {
		case "openai", "openai-compatible":
			router.Register(capability.NewOpenAICapability(capCfg, logger))
		default:
			logger.Warn("unknown capability type",
				zap.String("id", cc.ID), zap.String("type", cc.Type))
		}
	}
	for workerID, capID := range cfg.Pipeline.Bindings {
		router.Bind(workerID, capID)
	}
	for workerID, capIDs := range cfg.Pipeline.Fallbacks {
		router.SetFallbacks(workerID, capIDs)
	}

	var store runstore.Store
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		pg, pgErr := runstore.NewPostgres(ctx, dsn, logger)
		if pgErr != nil {
			return nil, pgErr
		}
		if mErr := pg.Migrate(ctx, "migrations"); mErr != nil {
			return nil, mErr
		}
		store = pg
	} else {
		dir := cfg.StoreDir
		if dir == "" {
			dir = ".crewline"
		}
		fs, fsErr := runstore.NewFileStore(dir, logger)
		if fsErr != nil {
			return nil, fsErr
		}
		store = fs
	}

	exec := pipeline.NewExecutor(pipe, router, cfg.Pipeline.TaskTimeout(), logger)
	ctrl := controller.New(pipe, exec, store, logger)

	return &app{cfg: cfg, pipe: pipe, router: router, store: store, ctrl: ctrl, logger: logger}, nil
}

func (a *app) close() {
	a.store.Close()
	_ = a.logger.Sync()
}

// buildInputs assembles the pipeline inputs: defaults first, then --set
// overrides.
func buildInputs(codebasePath, goals string) (pipeline.Inputs, error) {
	inputs := pipeline.Inputs{
		"codebase_path": codebasePath,
		"project_name":  "RefactorCrew",
		"language_hint": "auto",
		"goals":         goals,
		"output_format": "markdown",
	}
	for _, kv := range setInputs {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		inputs[key] = val
	}
	return inputs, nil
}
