package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"foureyes/internal/store"

	"github.com/spf13/cobra"
)

var (
	verifyConfigFile   string
	verifyLogFile      string
	verifyDeploymentID int64
	verifyActor        string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a single deployment",
	Long: `Run full four-eyes verification for one recorded deployment.

Fetches pull request reviews, commits and the compare diff since the previous
deployment, computes the verdict and persists it with a status-history entry.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyConfigFile, "config", "c", getEnvOrDefault("FOUREYES_CONFIG_FILE", "./foureyes.yaml"), "Path to YAML configuration file")
	verifyCmd.Flags().StringVar(&verifyLogFile, "log", getEnvOrDefault("FOUREYES_LOG_FILE", "./foureyes.log"), "Path to log file")
	verifyCmd.Flags().Int64Var(&verifyDeploymentID, "deployment", 0, "Deployment id to verify")
	verifyCmd.Flags().StringVar(&verifyActor, "actor", "cli", "Actor recorded in the status history")
	verifyCmd.MarkFlagRequired("deployment")
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := setupApp(verifyConfigFile, verifyLogFile)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Runner.VerifyDeployment(context.Background(), verifyDeploymentID, store.SourceVerification, verifyActor)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(res)
}
