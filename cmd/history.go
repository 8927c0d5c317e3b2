package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"farescope/internal/history"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Prints recent runs from the ledger.",
	Long:  "Prints recent runs from the ledger, or the per-query outcomes of one run with --run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("history-db")
		if dbPath == "" {
			return fmt.Errorf("the run ledger is disabled (--history-db is empty)")
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("ledger database not found: %s", dbPath)
		}

		db, err := history.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		runID, _ := cmd.Flags().GetInt64("run")
		if runID > 0 {
			return printRunQueries(db, runID)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		return printRuns(db, limit)
	},
}

func printRuns(db *history.DB, limit int) error {
	runs, err := db.RecentRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "RUN\tSTARTED\tMODE\tQUERIES\tFAILED\t")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Mode, r.Executed, r.Failed)
	}
	return w.Flush()
}

func printRunQueries(db *history.DB, runID int64) error {
	records, err := db.RunQueries(context.Background(), runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no queries recorded for run %d", runID)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "FROM\tTO\tDEPARTURE\tRETURN\tOFFERS\tSTATUS\tFILE\t")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
			r.Origin, r.Destination, r.DepartureDate, r.ReturnDate, r.Offers, r.Status, r.OutputFile)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Int("limit", 20, "How many runs to list")
	historyCmd.Flags().Int64("run", 0, "Show the per-query outcomes of this run id")
}
