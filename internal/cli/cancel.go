package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <migration-id>",
	Short: "Request cancellation of a running migration",
	Long: `Cancel asks a running migration to stop. Cancellation is cooperative:
pages that are already in flight finish, further fan-out stops, and the run
settles into CANCELLED once the queue drains.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api().Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Cancellation requested for %s\n", args[0])
		fmt.Printf("Use 'recordsync watch %s' to follow the wind-down.\n", args[0])
		return nil
	},
}
