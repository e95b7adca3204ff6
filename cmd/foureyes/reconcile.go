package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"foureyes/internal/reconcile"

	"github.com/spf13/cobra"
)

var (
	reconcileConfigFile string
	reconcileLogFile    string
	reconcileApp        string
	reconcileApply      bool
	reconcileActor      string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare stored verdicts against freshly computed ones",
	Long: `Re-run the rule engine over an application's deployments in cache-only mode
and report drift between stored and freshly computed verdicts.

No network calls are made. Deployments that were manually approved are never
flagged. With --apply, drifted deployments are re-verified live and the
corrected verdict is persisted with change source "reverification".`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVarP(&reconcileConfigFile, "config", "c", getEnvOrDefault("FOUREYES_CONFIG_FILE", "./foureyes.yaml"), "Path to YAML configuration file")
	reconcileCmd.Flags().StringVar(&reconcileLogFile, "log", getEnvOrDefault("FOUREYES_LOG_FILE", "./foureyes.log"), "Path to log file")
	reconcileCmd.Flags().StringVar(&reconcileApp, "app", "", "Application to reconcile")
	reconcileCmd.Flags().BoolVar(&reconcileApply, "apply", false, "Apply corrections for every drifted deployment")
	reconcileCmd.Flags().StringVar(&reconcileActor, "actor", "cli", "Actor recorded in the status history")
	reconcileCmd.MarkFlagRequired("app")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := setupApp(reconcileConfigFile, reconcileLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	// Ctrl-C flags the job for cooperative cancellation; partial progress
	// stays persisted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	jobID := reconcile.NewJobID()
	drifts, counts, err := a.Runner.RunDiffJob(ctx, jobID, reconcileApp)
	if err != nil && err != reconcile.ErrCancelled {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	fmt.Printf("Job %s: processed=%d skipped=%d errored=%d\n",
		jobID, counts.Processed, counts.Skipped, counts.Errored)
	if err == reconcile.ErrCancelled {
		fmt.Println("Cancelled; partial progress persisted")
	}

	if len(drifts) == 0 {
		fmt.Println("No drift detected")
		return nil
	}

	fmt.Printf("%d deployments drifted:\n", len(drifts))
	for _, d := range drifts {
		fmt.Printf("  deployment %d: %s -> %s (four eyes %t -> %t)\n",
			d.DeploymentID, d.OldStatus, d.NewStatus, d.OldHasFourEyes, d.NewHasFourEyes)
	}

	if !reconcileApply {
		fmt.Println("Run again with --apply to persist corrections")
		return nil
	}

	applied, err := a.Runner.Apply(ctx, drifts, reconcileActor)
	if err != nil {
		return fmt.Errorf("applied %d of %d corrections: %w", applied, len(drifts), err)
	}
	fmt.Printf("Applied %d corrections\n", applied)
	return nil
}
