package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"farescope/internal/runner"
	"farescope/pkg/query"
	"farescope/pkg/report"
)

// cheapestCmd represents the cheapest command
var cheapestCmd = &cobra.Command{
	Use:   "cheapest",
	Short: "Find the cheapest offers across a set of departure dates.",
	Long: `Queries the flight-dates endpoint for the cheapest offers on the given
departure dates. Pass --durations (trip lengths in days, one per date) to
search round trips; without it the search is one-way. The two forms cannot
be mixed in a single request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		originFlag, _ := cmd.Flags().GetString("origin")
		destinationFlag, _ := cmd.Flags().GetString("destination")
		dates, _ := cmd.Flags().GetString("dates")
		durations, _ := cmd.Flags().GetString("durations")

		origin, err := query.NormalizeAirportCode(originFlag)
		if err != nil {
			return fmt.Errorf("origin: %w", err)
		}
		destination, err := query.NormalizeAirportCode(destinationFlag)
		if err != nil {
			return fmt.Errorf("destination: %w", err)
		}

		var durationList []string
		if durations != "" {
			durationList = strings.Split(durations, ",")
		}

		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		started := time.Now()
		out, err := client.CheapestDates(ctx, origin, destination, strings.Split(dates, ","), durationList)
		if err != nil {
			return err
		}

		outputDir, _ := cmd.Flags().GetString("output-dir")
		file, reportErr := report.New(outputDir).Report(out)

		var summary runner.Summary
		res := runner.Result{Query: out.Query, Offers: len(out.Offers), Err: out.Err, OutputFile: file}
		if out.Err == nil && reportErr != nil {
			res.Err = reportErr
		}
		summary.Executed = 1
		if res.Err != nil {
			summary.Failed = 1
		}
		summary.Results = []runner.Result{res}
		recordRun(cmd, "cheapest", started, summary)

		if res.Err != nil {
			return fmt.Errorf("cheapest-date query failed: %w", res.Err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cheapestCmd)

	cheapestCmd.Flags().StringP("origin", "o", "", "IATA code for the departure city/airport")
	cheapestCmd.Flags().StringP("destination", "d", "", "IATA code for the arrival city/airport")
	cheapestCmd.Flags().String("dates", "", "Comma-separated departure dates in the form \"YYYY-MM-DD\"")
	cheapestCmd.Flags().String("durations", "", "Comma-separated trip lengths in days, one per date (round-trip search)")
	cheapestCmd.MarkFlagRequired("origin")
	cheapestCmd.MarkFlagRequired("destination")
	cheapestCmd.MarkFlagRequired("dates")
}
