package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

// rootCmd is the base command for the dealrisk CLI.
var rootCmd = &cobra.Command{
	Use:   "dealrisk",
	Short: "Deal risk scoring engine for sales pipelines",
	Long: `dealrisk scores open sales opportunities by estimated probability of loss
and converts the estimate into an interpretable 0-100 percentile risk ranking
with attributable top factors, so sales managers can prioritize intervention
time across the pipeline.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/dealrisk.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(benchmarksCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
