package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"farescope/internal/utils"
	"farescope/pkg/query"
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Search by criteria specified in a CSV file.",
	Long: `Runs one query per CSV line. Lines are origin,destination,departureDate,returnDate
with an empty returnDate meaning one-way. Malformed lines are reported and
skipped; the remaining lines still run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		queries, lineErrs, err := query.ParseBatchFile(file)
		if err != nil {
			return err
		}

		for _, lineErr := range lineErrs {
			utils.Log.Warnf("skipping malformed batch entry: %v", lineErr)
		}
		if len(queries) == 0 {
			return fmt.Errorf("no usable entries in %s", file)
		}

		return runQueries(cmd, "batch", queries, len(lineErrs))
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("file", "f", "", "CSV file containing search requests")
	batchCmd.MarkFlagRequired("file")
}
