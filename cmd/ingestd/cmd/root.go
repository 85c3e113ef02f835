package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledger-ingest-service/internal/ingest"
	"ledger-ingest-service/internal/ledger"
	"ledger-ingest-service/internal/ledger/csvledger"
	"ledger-ingest-service/internal/ledger/sheetledger"
	"ledger-ingest-service/internal/mappings"
	apperrors "ledger-ingest-service/pkg/errors"
	"ledger-ingest-service/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ingestd",
	Short: "Transaction ingestion and deduplication tool",
	Long: `Ingestd merges per-institution CSV exports into a single canonical
transaction ledger. Each institution's export format is described by a
column mapping; rows are normalized, fingerprinted and deduplicated
before being appended to the ledger.

Examples:
  ingestd ingest export.csv --institution chase
  ingestd ingest export.csv --institution chase --output-format json
  ingestd review 2819497684894126489 completed
  ingestd pending
  ingestd institutions`,
	Version: getVersionString(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("mappings", "mappings.yaml", "institution mappings file (YAML or JSON)")
	rootCmd.PersistentFlags().String("ledger-backend", "csv", "ledger backend: csv, sheets")
	rootCmd.PersistentFlags().String("ledger-file", "master.csv", "ledger file path (csv backend)")
	rootCmd.PersistentFlags().String("sheet-id", "", "spreadsheet ID (sheets backend)")
	rootCmd.PersistentFlags().String("worksheet", "Sheet1", "worksheet name (sheets backend)")
	rootCmd.PersistentFlags().String("credentials", "credentials.json", "service account key file (sheets backend)")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("mappings", rootCmd.PersistentFlags().Lookup("mappings"))
	viper.BindPFlag("ledger-backend", rootCmd.PersistentFlags().Lookup("ledger-backend"))
	viper.BindPFlag("ledger-file", rootCmd.PersistentFlags().Lookup("ledger-file"))
	viper.BindPFlag("sheet-id", rootCmd.PersistentFlags().Lookup("sheet-id"))
	viper.BindPFlag("worksheet", rootCmd.PersistentFlags().Lookup("worksheet"))
	viper.BindPFlag("credentials", rootCmd.PersistentFlags().Lookup("credentials"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match
	viper.SetEnvPrefix("INGESTD")
	viper.AutomaticEnv()

	logConfig := logger.DefaultConfig()
	if viper.GetBool("verbose") {
		logConfig = logger.DebugConfig()
	}
	if log, err := logger.New(logConfig); err == nil {
		logger.SetGlobalLogger(log)
	}
}

// buildEngine wires the registry, ledger backend and engine from the
// resolved configuration.
func buildEngine(ctx context.Context) (*ingest.Engine, error) {
	registry, err := mappings.LoadRegistry(viper.GetString("mappings"))
	if err != nil {
		return nil, err
	}

	backend, err := buildBackend(ctx)
	if err != nil {
		return nil, err
	}

	return ingest.NewEngine(ctx, registry, backend)
}

func buildBackend(ctx context.Context) (ledger.Ledger, error) {
	switch backend := viper.GetString("ledger-backend"); backend {
	case "csv":
		return csvledger.New(viper.GetString("ledger-file")), nil
	case "sheets":
		return sheetledger.New(ctx, sheetledger.Config{
			SpreadsheetID:   viper.GetString("sheet-id"),
			WorksheetName:   viper.GetString("worksheet"),
			CredentialsFile: viper.GetString("credentials"),
		})
	default:
		return nil, apperrors.New(apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig,
			fmt.Sprintf("unknown ledger backend '%s'", backend)).
			WithSuggestion("use 'csv' or 'sheets'")
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
