package cmd

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"ledger-ingest-service/pkg/errors"
	"ledger-ingest-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError handles errors and provides user-friendly messages
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	// Log the error
	h.logger.WithError(err).Error("Command failed")

	// Handle IngestError with detailed information
	if ingestErr, ok := errors.AsIngestError(err); ok {
		return h.handleIngestError(ingestErr)
	}

	// Handle other error types
	return h.handleGenericError(err)
}

// handleIngestError handles IngestError with detailed context
func (h *CLIErrorHandler) handleIngestError(err *errors.IngestError) int {
	// Print the main error message
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	// Add context information if available
	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	// Add suggestion if available
	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	// Add category-specific help
	fmt.Fprintf(os.Stderr, "\n%s\n", h.getCategoryHelp(err.Category))

	// Show underlying error in verbose mode
	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-IngestError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	// Check for common system errors and provide better messages
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(os.Stderr, "Error: Permission denied\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(os.Stderr, "Error: Insufficient disk space\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// Generic error handling
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if !h.verbose {
		fmt.Fprintf(os.Stderr, "\nFor more details, run with --verbose flag\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have proper permissions to access the file`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the export is a plain CSV file
• Ensure the file uses UTF-8 encoding
• Check the institution's skip_rows and header settings against the file
• Quoted multi-line fields and stray blank lines can desync the row count`

	case errors.CategoryValidation:
		return `Validation error help:
• Rows with unparsable amounts are kept with a null amount
• Unparsable dates keep their original text
• Review the ledger and repair degraded values manually`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check the institution key against 'ingestd institutions'
• Verify the mappings file syntax (--mappings)
• Check --ledger-backend and its backend-specific flags
• Use 'ingestd ingest --help' to see all available options`

	case errors.CategoryIngestion:
		return `Ingestion error help:
• The batch was not written; retrying the same upload is safe
• No duplicate suppression is left behind by an aborted batch`

	case errors.CategoryLedger:
		return `Ledger error help:
• Check the ledger file path or spreadsheet ID
• For the sheets backend, verify the service account has edit access
• A failed append leaves the ledger unchanged; retry when resolved`

	default:
		return `For more help:
• Use 'ingestd --help' for general help
• Use 'ingestd ingest --help' for command-specific help`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
