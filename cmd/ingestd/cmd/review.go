package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ledger-ingest-service/internal/records"
)

// reviewCmd represents the review command
var reviewCmd = &cobra.Command{
	Use:   "review <fingerprint> <state>",
	Short: "Mark a ledger record as completed or ignored",
	Long: `Review moves a pending ledger record to a terminal review state.

States: completed, ignored. Re-applying a record's current state
succeeds silently; a record already completed or ignored cannot move to
a different state.

Examples:
  ingestd review 2819497684894126489 completed
  ingestd review 2819497684894126489 ignored`,

	Args: cobra.ExactArgs(2),
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	fingerprint := args[0]
	state, err := records.ParseReviewState(args[1])
	if err != nil {
		return err
	}
	if state == records.ReviewPending {
		return fmt.Errorf("cannot move a record back to pending")
	}

	ctx := context.Background()
	engine, err := buildEngine(ctx)
	if err != nil {
		return err
	}

	if err := engine.SetReviewState(ctx, fingerprint, state); err != nil {
		return err
	}

	fmt.Printf("Record %s marked %s.\n", fingerprint, state)
	return nil
}
