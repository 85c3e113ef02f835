// Package mappings holds per-institution column mapping configuration
// and resolves it into concrete column-extraction plans.
//
// A mapping describes where in an institution's CSV export the canonical
// fields live. The column plan derived from it is only about *reading*
// the source file; the ledger's output column order is fixed and never
// depends on the source layout.
package mappings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	apperrors "ledger-ingest-service/pkg/errors"
)

// InstitutionMapping is the immutable per-institution configuration.
//
// DateCol, AmountCol and DescriptionCol are zero-based source column
// indices and must be present. CategoryCol is nil when the export has no
// category column. Coinciding indices are tolerated; some exports reuse
// one column for several fields.
type InstitutionMapping struct {
	DisplayName    string `mapstructure:"display_name" json:"display_name"`
	DateCol        int    `mapstructure:"date_col" json:"date_col"`
	AmountCol      int    `mapstructure:"amount_col" json:"amount_col"`
	DescriptionCol int    `mapstructure:"description_col" json:"description_col"`
	CategoryCol    *int   `mapstructure:"category_col" json:"category_col"`
	HeaderPresent  bool   `mapstructure:"header" json:"header"`
	RowsToSkip     int    `mapstructure:"skip_rows" json:"skip_rows"`
}

// Validate checks the mapping invariants.
func (m *InstitutionMapping) Validate() error {
	if strings.TrimSpace(m.DisplayName) == "" {
		return fmt.Errorf("display_name cannot be empty")
	}
	if m.DateCol < 0 {
		return fmt.Errorf("date_col must be non-negative, got %d", m.DateCol)
	}
	if m.AmountCol < 0 {
		return fmt.Errorf("amount_col must be non-negative, got %d", m.AmountCol)
	}
	if m.DescriptionCol < 0 {
		return fmt.Errorf("description_col must be non-negative, got %d", m.DescriptionCol)
	}
	if m.CategoryCol != nil && *m.CategoryCol < 0 {
		return fmt.Errorf("category_col must be non-negative, got %d", *m.CategoryCol)
	}
	if m.RowsToSkip < 0 {
		return fmt.Errorf("skip_rows must be non-negative, got %d", m.RowsToSkip)
	}
	return nil
}

// HasCategory reports whether the export carries a category column.
func (m *InstitutionMapping) HasCategory() bool {
	return m.CategoryCol != nil
}

// ColumnPlan returns the deduplicated, sorted set of source column
// indices the reader must extract for this mapping.
func (m *InstitutionMapping) ColumnPlan() []int {
	seen := map[int]struct{}{
		m.DateCol:        {},
		m.AmountCol:      {},
		m.DescriptionCol: {},
	}
	if m.CategoryCol != nil {
		seen[*m.CategoryCol] = struct{}{}
	}

	plan := make([]int, 0, len(seen))
	for idx := range seen {
		plan = append(plan, idx)
	}
	sort.Ints(plan)
	return plan
}

// SkipLines returns the number of leading physical lines both passes
// must skip. RowsToSkip counts every leading non-data line, the header
// included; HeaderPresent alone guarantees at least one line is skipped.
func (m *InstitutionMapping) SkipLines() int {
	skip := m.RowsToSkip
	if m.HeaderPresent && skip == 0 {
		skip = 1
	}
	return skip
}

// Registry holds the loaded institution mappings keyed by institution.
type Registry struct {
	mappings map[string]*InstitutionMapping
}

// NewRegistry creates a registry over the given mapping set. Every
// mapping is validated up front so resolution never hands out a broken
// plan.
func NewRegistry(mappings map[string]*InstitutionMapping) (*Registry, error) {
	for key, mapping := range mappings {
		if mapping == nil {
			return nil, apperrors.New(apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig,
				fmt.Sprintf("mapping for institution '%s' is empty", key))
		}
		if err := mapping.Validate(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig,
				fmt.Sprintf("invalid mapping for institution '%s'", key)).
				WithContext("institution", key)
		}
	}

	if mappings == nil {
		mappings = make(map[string]*InstitutionMapping)
	}
	return &Registry{mappings: mappings}, nil
}

// LoadRegistry reads the mappings file (YAML or JSON, decided by
// extension) and builds a registry from it.
func LoadRegistry(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig,
			fmt.Sprintf("cannot read mappings file %s", path)).
			WithSuggestion("check the file exists and is valid YAML or JSON").
			WithContext("path", path)
	}

	var mappings map[string]*InstitutionMapping
	if err := v.Unmarshal(&mappings); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig,
			fmt.Sprintf("cannot decode mappings file %s", path)).
			WithContext("path", path)
	}

	return NewRegistry(mappings)
}

// Resolve returns the mapping for an institution key, or
// configuration_not_found when the key is absent.
func (r *Registry) Resolve(key string) (*InstitutionMapping, error) {
	mapping, ok := r.mappings[key]
	if !ok {
		return nil, apperrors.ConfigurationNotFound(key)
	}
	return mapping, nil
}

// Keys returns the configured institution keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.mappings))
	for key := range r.mappings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of configured institutions.
func (r *Registry) Len() int {
	return len(r.mappings)
}
