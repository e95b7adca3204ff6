package main

import (
	"fmt"
	"os"

	"foureyes/internal/server"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logFile    string
	host       string
	port       int
	testMode   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audit API server",
	Long: `Start the HTTP API that records deployments, serves verification verdicts
and status history, and triggers verification and reconciliation jobs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", getEnvOrDefault("FOUREYES_CONFIG_FILE", "./foureyes.yaml"), "Path to YAML configuration file")
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("FOUREYES_LOG_FILE", "./foureyes.log"), "Path to log file")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("FOUREYES_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("FOUREYES_PORT", 5400), "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("FOUREYES_SKIP_RATELIMIT") == "1", "Enable test mode (skip rate limiting)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setupApp(configFile, logFile)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Logger.Info("Starting foureyes")

	srv := server.NewServer(a.Store, a.Runner, a.Hooks, a.Logger, testMode)

	a.Logger.Info("Starting HTTP server", "host", host, "port", port)
	if err := srv.Start(host, port); err != nil {
		a.Logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
