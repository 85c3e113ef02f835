package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var pendingFormat string

// pendingCmd represents the pending command
var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List ledger records awaiting review",
	Long: `Pending lists every ledger record still in the pending review state,
in ledger order, with the fingerprint needed to review each one.

Examples:
  ingestd pending
  ingestd pending --output-format json`,

	RunE: runPending,
}

func init() {
	rootCmd.AddCommand(pendingCmd)

	pendingCmd.Flags().StringVarP(&pendingFormat, "output-format", "f", "console", "output format: console, json")
	viper.BindPFlag("pending-output-format", pendingCmd.Flags().Lookup("output-format"))
}

func runPending(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := buildEngine(ctx)
	if err != nil {
		return err
	}

	pending, err := engine.ListPending(ctx)
	if err != nil {
		return err
	}

	if pendingFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(pending)
	}

	if len(pending) == 0 {
		fmt.Println("No records pending review.")
		return nil
	}

	fmt.Printf("%d record(s) pending review:\n\n", len(pending))
	for _, rec := range pending {
		amount := "null"
		if rec.Amount != nil {
			amount = rec.Amount.String()
		}
		fmt.Printf("  %s\n", rec.Fingerprint)
		fmt.Printf("    %s | %s | %s | %s\n\n",
			rec.TransactionDate, amount, rec.Description, rec.CardName)
	}
	return nil
}
