// Package cli provides the command-line interface for recordsync.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/justiceops/recordsync/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	authToken string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "recordsync",
	Short: "Migration and synchronisation engine for legacy record systems",
	Long: `Recordsync moves records out of a legacy system into its replacement
services and keeps the two aligned while they run side by side.

Bulk migrations are divided into pages and fanned out over a work queue;
live change events from the source system are reconciled continuously.
Every migrated record leaves a durable source-to-target id mapping.`,
	Version: Version,
}

// api creates the operator API client from the global flags.
func api() *client.Client {
	return client.New(serverURL, authToken)
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "operator API base URL (default $RECORDSYNC_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token (default $RECORDSYNC_TOKEN)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(watchCmd)
}
