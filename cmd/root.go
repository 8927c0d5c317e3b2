package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"farescope/internal/history"
	"farescope/internal/runner"
	"farescope/internal/utils"
	"farescope/pkg/amadeus"
	"farescope/pkg/query"
	"farescope/pkg/report"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "farescope",
	Short: "Batch flight-offer searches against the Amadeus API.",
	Long: `farescope expands compact search requests into concrete flight-offer
queries, runs them against the Amadeus API with rate-limit aware retries,
and keeps every raw response under last_search/.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.farescope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().String("client-id", "", "Amadeus API client id")
	rootCmd.PersistentFlags().String("client-secret", "", "Amadeus API client secret")
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("output-dir", report.DefaultDir, "Directory where raw response payloads are written")
	rootCmd.PersistentFlags().Int("concurrency", 1, "Concurrent queries (1 = sequential)")
	rootCmd.PersistentFlags().String("history-db", "farescope.sqlite", "Run ledger database path (empty string disables the ledger)")
	rootCmd.PersistentFlags().Int("adults", 1, "Passenger count per search")
	rootCmd.PersistentFlags().Int("max-results", 10, "Maximum offers requested per query")
	rootCmd.PersistentFlags().Float64("max-price", 0, "Skip offers above this total price (0 = no cap)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".farescope")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("amadeus.client_id", "AMADEUS_CLIENT_ID")
	viper.BindEnv("amadeus.client_secret", "AMADEUS_CLIENT_SECRET")

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.farescope.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	viper.SetDefault("amadeus.client_id", "")
	viper.SetDefault("amadeus.client_secret", "")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// newClient builds the Amadeus client from flags, config file and env, in
// that order of precedence.
func newClient(cmd *cobra.Command) (*amadeus.Client, error) {
	clientID, _ := cmd.Flags().GetString("client-id")
	if clientID == "" {
		clientID = viper.GetString("amadeus.client_id")
	}
	clientSecret, _ := cmd.Flags().GetString("client-secret")
	if clientSecret == "" {
		clientSecret = viper.GetString("amadeus.client_secret")
	}

	proxy, _ := cmd.Flags().GetString("proxy")
	adults, _ := cmd.Flags().GetInt("adults")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	maxPrice, _ := cmd.Flags().GetFloat64("max-price")

	return amadeus.NewClient(amadeus.Options{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Adults:       adults,
		MaxResults:   maxResults,
		MaxPrice:     maxPrice,
		Proxy:        proxy,
	})
}

// runQueries is the shared tail of the oneway and batch commands: execute
// every concrete query, record the run in the ledger, and turn failures
// into a non-zero exit. skipped counts batch lines dropped during parsing;
// they make the run fail without aborting it.
func runQueries(cmd *cobra.Command, mode string, queries []query.ConcreteQuery, skipped int) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	outputDir, _ := cmd.Flags().GetString("output-dir")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	r := &runner.Runner{
		Searcher:    client,
		Reporter:    report.New(outputDir),
		Concurrency: concurrency,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	summary, runErr := r.Run(ctx, queries)
	recordRun(cmd, mode, started, summary)

	if runErr != nil {
		return fmt.Errorf("run aborted after %d of %d queries: %w", summary.Executed, len(queries), runErr)
	}
	if summary.Failed > 0 || skipped > 0 {
		return fmt.Errorf("%d of %d queries failed", summary.Failed+skipped, len(queries)+skipped)
	}
	return nil
}

// recordRun appends the run to the sqlite ledger, unless disabled. Ledger
// trouble is logged, it never fails a search that already happened.
func recordRun(cmd *cobra.Command, mode string, started time.Time, summary runner.Summary) {
	dbPath, _ := cmd.Flags().GetString("history-db")
	if dbPath == "" {
		return
	}

	db, err := history.Open(dbPath)
	if err != nil {
		utils.Log.Warnf("run ledger unavailable: %v", err)
		return
	}
	defer db.Close()

	records := make([]history.QueryRecord, 0, len(summary.Results))
	for _, res := range summary.Results {
		records = append(records, history.QueryRecord{
			Origin:        res.Query.Origin,
			Destination:   res.Query.Destination,
			DepartureDate: res.Query.DepartureDate,
			ReturnDate:    res.Query.ReturnDate,
			Offers:        res.Offers,
			Status:        history.StatusOf(res.Err),
			OutputFile:    res.OutputFile,
		})
	}

	if _, err := db.RecordRun(context.Background(), mode, started, records); err != nil {
		utils.Log.Warnf("could not record run in ledger: %v", err)
	}
}
