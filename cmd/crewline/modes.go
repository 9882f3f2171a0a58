package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/api"
	"github.com/crewline/crewline/internal/capability"
)

// signalContext returns a context cancelled on SIGINT/SIGTERM so an
// in-flight run stops at the next task boundary.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [codebase_path]",
		Short: "Execute the pipeline once and print the final output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			inputs, err := buildInputs(pathArg(args),
				"Review the codebase, identify issues, propose a refactor plan, and produce a patch/diff.")
			if err != nil {
				return err
			}

			run, err := a.ctrl.Run(ctx, inputs)
			if err != nil {
				return err
			}
			fmt.Println(run.FinalOutput())
			return nil
		},
	}
}

func newTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train <n_iterations> <checkpoint> [codebase_path]",
		Short: "Execute the pipeline repeatedly, accumulating training state into a checkpoint",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("iterations %q is not a number: %w", args[0], err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			inputs, err := buildInputs(pathArg(args[2:]),
				"Train the crew to produce consistent code review reports and refactoring plans.")
			if err != nil {
				return err
			}

			report, err := a.ctrl.Train(ctx, n, args[1], inputs)
			if err != nil {
				return err
			}
			a.logger.Info("training complete",
				zap.Int("iterations", report.Iterations),
				zap.String("checkpoint", report.Checkpoint))
			return printJSON(report)
		},
	}
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <task_id>",
		Short: "Re-execute the pipeline from a task onward, reusing the latest run's earlier results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.ctrl.Replay(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(run.FinalOutput())
			return nil
		},
	}
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <n_iterations> [codebase_path]",
		Short: "Execute the pipeline repeatedly and score each run with the evaluator",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("iterations %q is not a number: %w", args[0], err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			judge, ok := a.router.Get(a.cfg.Evaluator.Capability)
			if !ok {
				return fmt.Errorf("evaluator capability %q is not configured", a.cfg.Evaluator.Capability)
			}
			scorer := capability.NewLLMScorer(judge, a.logger)

			inputs, err := buildInputs(pathArg(args[1:]),
				"Evaluate the crew's review quality and refactoring recommendations.")
			if err != nil {
				return err
			}

			report, err := a.ctrl.Test(ctx, n, scorer, inputs)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger surface and run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			defaults, err := buildInputs(".",
				"Review the codebase, identify issues, propose a refactor plan, and produce a patch/diff.")
			if err != nil {
				return err
			}
			handler := api.NewHandler(a.ctrl, a.store, a.pipe.ID, defaults, a.logger)

			port := a.cfg.Server.Port
			if port == 0 {
				port = 8080
			}
			srv := &http.Server{
				Addr:    fmt.Sprintf(":%d", port),
				Handler: handler.Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("crewline listening", zap.Int("port", port))
				if err := srv.ListenAndServe(); err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				a.logger.Info("shutting down")
				return srv.Shutdown(context.Background())
			}
		},
	}
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}
