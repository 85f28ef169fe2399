package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshDeleteFirst bool

var refreshCmd = &cobra.Command{
	Use:   "refresh <record-type> <source-id>",
	Short: "Re-migrate one record",
	Long: `Refresh re-runs the migration path for a single record, the repair
action for records that drifted or failed. With --delete-first the existing
target record and its mapping are removed before migrating afresh; without
it an already-mapped record is left alone.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := api().RefreshRecord(cmd.Context(), args[0], args[1], refreshDeleteFirst)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.SourceID, res.Outcome)
		return nil
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshDeleteFirst, "delete-first", false, "delete the existing target record and mapping first")
}
