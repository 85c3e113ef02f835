package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledger-ingest-service/internal/mappings"
)

// institutionsCmd represents the institutions command
var institutionsCmd = &cobra.Command{
	Use:   "institutions",
	Short: "List configured institutions",
	Long: `Institutions lists every institution key in the mappings file along
with its display name and column layout.`,

	RunE: runInstitutions,
}

func init() {
	rootCmd.AddCommand(institutionsCmd)
}

func runInstitutions(cmd *cobra.Command, args []string) error {
	registry, err := mappings.LoadRegistry(viper.GetString("mappings"))
	if err != nil {
		return err
	}

	keys := registry.Keys()
	if len(keys) == 0 {
		fmt.Println("No institutions configured.")
		return nil
	}

	fmt.Printf("%d institution(s) configured:\n\n", len(keys))
	for _, key := range keys {
		mapping, err := registry.Resolve(key)
		if err != nil {
			return err
		}

		category := "none"
		if mapping.HasCategory() {
			category = fmt.Sprintf("column %d", *mapping.CategoryCol)
		}
		fmt.Printf("  %s (%s)\n", key, mapping.DisplayName)
		fmt.Printf("    date: column %d, amount: column %d, description: column %d, category: %s\n",
			mapping.DateCol, mapping.AmountCol, mapping.DescriptionCol, category)
		fmt.Printf("    header: %v, skip rows: %d\n\n", mapping.HeaderPresent, mapping.RowsToSkip)
	}
	return nil
}
