package mappings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	apperrors "ledger-ingest-service/pkg/errors"
)

func intPtr(v int) *int { return &v }

func validMapping() *InstitutionMapping {
	return &InstitutionMapping{
		DisplayName:    "Test Bank",
		DateCol:        0,
		AmountCol:      1,
		DescriptionCol: 2,
		HeaderPresent:  true,
		RowsToSkip:     1,
	}
}

func TestMappingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*InstitutionMapping)
		wantErr bool
	}{
		{"valid", func(m *InstitutionMapping) {}, false},
		{"empty display name", func(m *InstitutionMapping) { m.DisplayName = "  " }, true},
		{"negative date col", func(m *InstitutionMapping) { m.DateCol = -1 }, true},
		{"negative amount col", func(m *InstitutionMapping) { m.AmountCol = -2 }, true},
		{"negative description col", func(m *InstitutionMapping) { m.DescriptionCol = -1 }, true},
		{"negative category col", func(m *InstitutionMapping) { m.CategoryCol = intPtr(-1) }, true},
		{"negative skip rows", func(m *InstitutionMapping) { m.RowsToSkip = -1 }, true},
		{"nil category is fine", func(m *InstitutionMapping) { m.CategoryCol = nil }, false},
		{"coinciding indices tolerated", func(m *InstitutionMapping) { m.AmountCol = m.DateCol }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapping := validMapping()
			tt.mutate(mapping)
			err := mapping.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestColumnPlan(t *testing.T) {
	tests := []struct {
		name    string
		mapping *InstitutionMapping
		want    []int
	}{
		{
			name: "distinct columns without category",
			mapping: &InstitutionMapping{
				DisplayName: "A", DateCol: 2, AmountCol: 0, DescriptionCol: 5,
			},
			want: []int{0, 2, 5},
		},
		{
			name: "with category",
			mapping: &InstitutionMapping{
				DisplayName: "B", DateCol: 1, AmountCol: 4, DescriptionCol: 3, CategoryCol: intPtr(6),
			},
			want: []int{1, 3, 4, 6},
		},
		{
			name: "coinciding indices collapse",
			mapping: &InstitutionMapping{
				DisplayName: "C", DateCol: 0, AmountCol: 0, DescriptionCol: 1, CategoryCol: intPtr(1),
			},
			want: []int{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mapping.ColumnPlan(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ColumnPlan() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSkipLines(t *testing.T) {
	tests := []struct {
		name   string
		header bool
		skip   int
		want   int
	}{
		{"no header no skip", false, 0, 0},
		{"header only", true, 0, 1},
		{"header counted in skip", true, 1, 1},
		{"preamble plus header", true, 3, 3},
		{"skip without header", false, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapping := validMapping()
			mapping.HeaderPresent = tt.header
			mapping.RowsToSkip = tt.skip
			if got := mapping.SkipLines(); got != tt.want {
				t.Errorf("SkipLines() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	registry, err := NewRegistry(map[string]*InstitutionMapping{
		"testbank": validMapping(),
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	mapping, err := registry.Resolve("testbank")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if mapping.DisplayName != "Test Bank" {
		t.Errorf("display name = %q", mapping.DisplayName)
	}

	_, err = registry.Resolve("unknown")
	if !apperrors.HasCode(err, apperrors.CodeConfigurationNotFound) {
		t.Fatalf("expected configuration_not_found, got: %v", err)
	}
}

func TestNewRegistryRejectsInvalidMapping(t *testing.T) {
	broken := validMapping()
	broken.DateCol = -1

	_, err := NewRegistry(map[string]*InstitutionMapping{"broken": broken})
	if !apperrors.HasCode(err, apperrors.CodeInvalidConfig) {
		t.Fatalf("expected invalid_config, got: %v", err)
	}
}

func TestRegistryKeysSorted(t *testing.T) {
	registry, err := NewRegistry(map[string]*InstitutionMapping{
		"zeta":  validMapping(),
		"alpha": validMapping(),
		"mid":   validMapping(),
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	want := []string{"alpha", "mid", "zeta"}
	if got := registry.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if registry.Len() != 3 {
		t.Errorf("Len() = %d, want 3", registry.Len())
	}
}

func TestLoadRegistryYAML(t *testing.T) {
	content := `testbank:
  display_name: Test Bank
  date_col: 0
  amount_col: 1
  description_col: 2
  header: true
  skip_rows: 1
categorized:
  display_name: Categorized Bank
  date_col: 1
  amount_col: 4
  description_col: 3
  category_col: 6
  header: true
`
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write mappings file: %v", err)
	}

	registry, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if registry.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", registry.Len())
	}

	mapping, err := registry.Resolve("categorized")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !mapping.HasCategory() || *mapping.CategoryCol != 6 {
		t.Errorf("category col = %v, want 6", mapping.CategoryCol)
	}
	if mapping.RowsToSkip != 0 || !mapping.HeaderPresent {
		t.Errorf("skip/header not decoded: %d, %v", mapping.RowsToSkip, mapping.HeaderPresent)
	}
	if mapping.SkipLines() != 1 {
		t.Errorf("SkipLines() = %d, want 1", mapping.SkipLines())
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	if !apperrors.HasCode(err, apperrors.CodeInvalidConfig) {
		t.Fatalf("expected invalid_config, got: %v", err)
	}
}
