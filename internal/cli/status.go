package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/justiceops/recordsync/internal/history"
)

var statusCmd = &cobra.Command{
	Use:   "status [migration-id]",
	Short: "Show active runs, or one run by id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			run, err := api().Migration(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(run)
			return nil
		}

		active, err := api().Active(cmd.Context())
		if err != nil {
			return err
		}
		if len(active) == 0 {
			fmt.Println("No active migration runs.")
			return nil
		}
		for _, run := range active {
			printRun(run)
			fmt.Println()
		}
		return nil
	},
}

func printRun(run history.Run) {
	fmt.Printf("%s\n", run.MigrationID)
	fmt.Printf("  Type:      %s\n", run.Type)
	fmt.Printf("  Status:    %s\n", run.Status)
	if len(run.Filter) > 0 {
		fmt.Printf("  Filter:    %s\n", run.Filter)
	}
	fmt.Printf("  Estimated: %d\n", run.EstimatedCount)
	if run.Status.Terminal() {
		fmt.Printf("  Migrated:  %d\n", run.RecordsMigrated)
		fmt.Printf("  Failed:    %d\n", run.RecordsFailed)
	}
	fmt.Printf("  Started:   %s\n", run.WhenStarted.Format(time.RFC3339))
	if run.WhenEnded != nil {
		fmt.Printf("  Ended:     %s (took %s)\n",
			run.WhenEnded.Format(time.RFC3339),
			run.WhenEnded.Sub(run.WhenStarted).Round(time.Second))
	}
}
