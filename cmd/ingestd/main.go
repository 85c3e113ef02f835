package main

import (
	"os"

	"github.com/joho/godotenv"

	"ledger-ingest-service/cmd/ingestd/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Local .env overrides make sheet IDs and credentials paths easy to
	// manage per machine. A missing file is fine.
	_ = godotenv.Overload()

	cmd.SetVersionInfo(version, commit, date)

	if err := cmd.Execute(); err != nil {
		handler := cmd.NewCLIErrorHandler()
		os.Exit(handler.HandleError(err))
	}
}
