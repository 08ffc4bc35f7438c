// Package cli implements the ipeds command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glidru/ipeds-pipeline/config"
	"github.com/glidru/ipeds-pipeline/lake"
	"github.com/glidru/ipeds-pipeline/logging"
	"github.com/glidru/ipeds-pipeline/metrics"
)

const version = "0.1.0"

var (
	cfgPath  string
	logLevel string

	cfg    *config.Config
	store  *lake.Store
	logger *logging.ComponentLogger
	mtr    *metrics.Metrics
)

// rootCmd is the root command
var rootCmd = &cobra.Command{
	Use:     "ipeds",
	Short:   "IPEDS data ingestion pipeline",
	Version: version,
	Long: `Downloads yearly IPEDS Access database archives from NCES, extracts their
tables to Parquet, loads them into DuckDB staging tables, and runs dbt
transformations to build mart tables.`,
	Example: `  # Download the 2023 final archive
  $ ipeds download 2023

  # Extract every table from a local Access file
  $ ipeds extract /data/IPEDS2023.accdb

  # Load the 2023 extraction into staging
  $ ipeds load 2023

  # Run the full pipeline, reusing an existing download
  $ ipeds pipeline 2023 --skip-download`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.SetLevel(logLevel)
		logger = logging.NewComponentLogger("ipeds-pipeline", version)

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		store, err = lake.NewStore(cfg.Lake.BucketPath, logger)
		if err != nil {
			return err
		}

		mtr = metrics.New(cfg.Metrics.Enabled, cfg.Metrics.Address)
		mtr.Serve()

		return nil
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(listTablesCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(infoCmd)
}
