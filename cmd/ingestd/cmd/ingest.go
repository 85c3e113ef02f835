package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledger-ingest-service/internal/ingest"
	apperrors "ledger-ingest-service/pkg/errors"
)

var (
	institution  string
	outputFormat string
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest an institution's CSV export into the ledger",
	Long: `Ingest reads one CSV export, normalizes its rows per the institution's
column mapping, skips rows already present in the ledger and appends the
rest.

Re-running the same file is safe: every row of a repeated upload is
reported as a duplicate and nothing is written twice.

Examples:
  # Ingest an export for a configured institution
  ingestd ingest chase-export.csv --institution chase

  # Machine-readable result for scripting
  ingestd ingest chase-export.csv --institution chase --output-format json

  # Against a Google Sheets ledger
  ingestd ingest export.csv --institution chase \
    --ledger-backend sheets --sheet-id <id> --credentials key.json`,

	Args:    cobra.ExactArgs(1),
	PreRunE: validateIngestFlags,
	RunE:    runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&institution, "institution", "i", "", "institution key from the mappings file (required)")
	ingestCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json")

	ingestCmd.MarkFlagRequired("institution")

	viper.BindPFlag("institution", ingestCmd.Flags().Lookup("institution"))
	viper.BindPFlag("output-format", ingestCmd.Flags().Lookup("output-format"))
}

func validateIngestFlags(cmd *cobra.Command, args []string) error {
	institution = viper.GetString("institution")
	outputFormat = viper.GetString("output-format")

	if institution == "" {
		return fmt.Errorf("institution is required")
	}
	switch outputFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid output format '%s': use console or json", outputFormat)
	}

	if _, err := os.Stat(args[0]); os.IsNotExist(err) {
		return apperrors.FileError(apperrors.CodeFileNotFound, args[0], err)
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return apperrors.FileError(apperrors.CodeFilePermission, args[0], err)
	}

	engine, err := buildEngine(ctx)
	if err != nil {
		return err
	}

	result, err := engine.Ingest(ctx, data, institution)
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		return printResultJSON(result)
	default:
		printResultConsole(result)
	}
	return nil
}

func printResultJSON(result *ingest.Result) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printResultConsole(result *ingest.Result) {
	fmt.Printf("Batch %s (%s)\n", result.BatchID, result.Institution)
	fmt.Println(strings.Repeat("-", 40))
	for _, message := range result.Messages {
		fmt.Println(message)
	}
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Rows read:    %d\n", result.RowsRead)
	fmt.Printf("Rows written: %d\n", result.RowsWritten)
	fmt.Printf("Duplicates:   %d\n", len(result.Duplicates))

	if len(result.Duplicates) > 0 {
		fmt.Println("\nSkipped duplicate rows:")
		for _, dup := range result.Duplicates {
			amount := "null"
			if dup.Amount != nil {
				amount = dup.Amount.String()
			}
			category := ""
			if dup.Category != nil {
				category = *dup.Category
			}
			fmt.Printf("  %s | %s | %s | %s | %s\n",
				dup.TransactionDate, amount, dup.Description, category, dup.CardName)
		}
	}
}
