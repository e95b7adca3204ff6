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
	fetchConfigFile string
	fetchLogFile    string
	fetchApp        string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Warm the snapshot cache for an application",
	Long: `Fetch and store GitHub data (pull requests, reviews, commits, compare diffs)
for every recorded deployment of an application, so reconciliation can run
entirely from snapshots.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchConfigFile, "config", "c", getEnvOrDefault("FOUREYES_CONFIG_FILE", "./foureyes.yaml"), "Path to YAML configuration file")
	fetchCmd.Flags().StringVar(&fetchLogFile, "log", getEnvOrDefault("FOUREYES_LOG_FILE", "./foureyes.log"), "Path to log file")
	fetchCmd.Flags().StringVar(&fetchApp, "app", "", "Application to fetch")
	fetchCmd.MarkFlagRequired("app")
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := setupApp(fetchConfigFile, fetchLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	jobID := reconcile.NewJobID()
	counts, err := a.Runner.RunFetchJob(ctx, jobID, fetchApp)

	fmt.Printf("Job %s: processed=%d fetched=%d errored=%d\n",
		jobID, counts.Processed, counts.Fetched, counts.Errored)

	switch {
	case err == reconcile.ErrCancelled:
		fmt.Println("Cancelled; partial progress persisted")
		return nil
	case err != nil:
		return fmt.Errorf("fetch failed: %w", err)
	}
	return nil
}
