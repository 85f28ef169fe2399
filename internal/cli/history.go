package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/justiceops/recordsync/internal/client"
)

var (
	historyType     string
	historyFrom     string
	historyTo       string
	historyFailures bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past migration runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := api().History(cmd.Context(), client.HistoryQuery{
			Type:         historyType,
			From:         historyFrom,
			To:           historyTo,
			OnlyFailures: historyFailures,
		})
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No migration runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tESTIMATED\tMIGRATED\tFAILED\tSTARTED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				run.MigrationID, run.Type, run.Status,
				run.EstimatedCount, run.RecordsMigrated, run.RecordsFailed,
				run.WhenStarted.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyType, "type", "", "filter by record type")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "runs started after (RFC3339)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "runs started before (RFC3339)")
	historyCmd.Flags().BoolVar(&historyFailures, "only-failures", false, "only runs with failed records")
}
