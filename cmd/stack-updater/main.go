package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nholik/stack-updater/internal/healthcheck"
	"github.com/nholik/stack-updater/internal/reconcile"
	"github.com/nholik/stack-updater/internal/runner"
	"github.com/nholik/stack-updater/internal/server"
	"github.com/nholik/stack-updater/internal/update"
	"github.com/spf13/cobra"
)

// exitUpdateFailed is the exit status of `update` when the run completed without success.
const exitUpdateFailed = 2

var errUpdateFailed = errors.New("update did not succeed")

var stacksFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "stack-updater",
		Short:        "Keeps compose stacks in step with their source repositories",
		Long:         "Checks deployed versions against version control, pulls, rebuilds and restarts compose stacks, and verifies their health.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&stacksFile, "stacks", "", "stacks file (default: $SU_STACKS_FILE or ./stacks.yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		updateCmd(),
		checkCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if errors.Is(err, errUpdateFailed) {
		os.Exit(exitUpdateFailed)
	}
	if err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run periodic version checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(stacksFile)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			tracker := healthcheck.NewTracker(a.cfg.PollInterval)
			if a.docker == nil {
				tracker.SetDependency("docker", fmt.Errorf("docker api client unavailable"))
			}

			wait := server.Start(ctx, a.logger, server.Config{
				APIPort:         a.cfg.APIPort,
				MetricsPort:     a.cfg.MetricsPort,
				ShutdownTimeout: a.cfg.BuildTimeout,
			}, a.coordinator, tracker, a.metrics)

			if a.cfg.PollInterval <= 0 {
				a.logger.Info().Msg("periodic version checks disabled")
				<-ctx.Done()
				wait()
				return nil
			}

			opts := []runner.Option{
				runner.WithChecker(a.coordinator),
				runner.WithCycleRecorder(tracker),
				runner.WithDependencyRecorder(tracker),
				runner.WithCycleObserver(a.metrics),
			}
			if a.docker != nil {
				opts = append(opts, runner.WithPinger(a.docker))
			}

			err = runner.New(a.logger, a.cfg.PollInterval, opts...).Run(ctx)
			wait()
			return err
		},
	}
}

func updateCmd() *cobra.Command {
	var (
		prune         bool
		force         bool
		handleChanges string
	)

	cmd := &cobra.Command{
		Use:   "update <stack>",
		Short: "Run one update of a stack and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := reconcile.ParseStrategy(handleChanges)
			if err != nil {
				return err
			}

			a, err := newApp(stacksFile)
			if err != nil {
				return err
			}
			defer a.Close()

			result, runErr := a.coordinator.Update(cmd.Context(), args[0], update.Options{
				PerformPrune:  prune,
				ForceUpdate:   force,
				HandleChanges: strategy,
			})
			if result.RunID == "" && runErr != nil {
				return runErr
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("%w: %s", errUpdateFailed, result.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "prune unused engine resources after teardown")
	cmd.Flags().BoolVar(&force, "force", false, "update even when the version check reports nothing to do")
	cmd.Flags().StringVar(&handleChanges, "handle-changes", string(reconcile.DefaultStrategy), "local modification strategy: preserve, archive, discard or abort")

	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <stack>",
		Short: "Resolve deployed, local and latest versions without updating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(stacksFile)
			if err != nil {
				return err
			}
			defer a.Close()

			check, err := a.coordinator.CheckVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, check)
		},
	}
}

func printJSON(cmd *cobra.Command, payload any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
