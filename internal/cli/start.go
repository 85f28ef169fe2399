package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/justiceops/recordsync/internal/gateway"
)

var (
	startFilter []string
	startWatch  bool
)

var startCmd = &cobra.Command{
	Use:   "start <record-type>",
	Short: "Start a bulk migration run",
	Long: `Start begins a bulk migration for one record type. The optional
filter narrows which records are enumerated, e.g.:

  recordsync start court-cases --filter prisonId=MDI --filter fromDate=2020-01-01`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := gateway.Filter{}
		for _, f := range startFilter {
			key, value, ok := strings.Cut(f, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid filter %q, expected key=value", f)
			}
			filter[key] = value
		}

		run, err := api().StartMigration(cmd.Context(), args[0], filter)
		if err != nil {
			return err
		}

		fmt.Printf("Migration started\n")
		fmt.Printf("  ID:        %s\n", run.MigrationID)
		fmt.Printf("  Type:      %s\n", run.Type)
		fmt.Printf("  Estimated: %d records\n", run.EstimatedCount)

		if startWatch {
			return watchRun(cmd.Context(), run.MigrationID)
		}
		fmt.Printf("\nUse 'recordsync watch %s' to follow progress.\n", run.MigrationID)
		return nil
	},
}

func init() {
	startCmd.Flags().StringArrayVar(&startFilter, "filter", nil, "filter as key=value, repeatable")
	startCmd.Flags().BoolVar(&startWatch, "watch", false, "follow progress after starting")
}
