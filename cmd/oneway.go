package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"farescope/internal/utils"
	"farescope/pkg/query"
)

// onewayCmd represents the oneway command
var onewayCmd = &cobra.Command{
	Use:   "oneway",
	Short: "Search one-way flights by criteria specified on the command line.",
	Long: `Searches one-way flights from one origin to every given destination, for
every date in a consecutive range. With -d BCN,MUC --timeframe 5 that is
ten concrete queries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		origin, _ := cmd.Flags().GetString("origin")
		destinations, _ := cmd.Flags().GetString("destinations")
		date, _ := cmd.Flags().GetString("date")
		timeframe, _ := cmd.Flags().GetInt("timeframe")

		queries, err := query.Expand(query.SearchRequest{
			Origin:        origin,
			Destinations:  strings.Split(destinations, ","),
			DepartureDate: date,
			Timeframe:     timeframe,
		})
		if err != nil {
			return err
		}

		utils.Log.Debugf("expanded request into %d queries", len(queries))
		return runQueries(cmd, "oneway", queries, 0)
	},
}

func init() {
	rootCmd.AddCommand(onewayCmd)

	onewayCmd.Flags().StringP("origin", "o", "", "IATA code for the departure city/airport")
	onewayCmd.Flags().StringP("destinations", "d", "", "Comma-separated IATA codes for the arrival cities/airports")
	onewayCmd.Flags().String("date", "", "First date of the desired range in the form \"YYYY-MM-DD\"")
	onewayCmd.Flags().Int("timeframe", 1, "How many consecutive dates to include in the search")
	onewayCmd.MarkFlagRequired("origin")
	onewayCmd.MarkFlagRequired("destinations")
	onewayCmd.MarkFlagRequired("date")
}
