package definition

import (
	"testing"

	"github.com/pitabwire/portico/model"
)

func validFile() model.DefinitionFile {
	return model.DefinitionFile{
		Module:     "core",
		Version:    "1.0.0",
		SourceFile: "core.yaml",
		Searchers: []model.SearcherDefinition{
			{
				ID:              "core.roles",
				Entity:          "role",
				Projections:     []string{"id", "name"},
				DefaultPageSize: 10,
				PageSizes:       []int{10, 20},
				DefaultFilters: []model.FilterDefinition{
					{ID: "isSystem", Value: false, Filter: "isSystem: false"},
				},
				Rights: []int{model.RightRoleSearch},
			},
		},
	}
}

func hasCode(errs []VError, code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}

func TestValidator_valid(t *testing.T) {
	errs := NewValidator().Validate([]model.DefinitionFile{validFile()})
	if len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidator_errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.DefinitionFile)
		code   string
	}{
		{"missing module", func(d *model.DefinitionFile) { d.Module = "" }, "REQUIRED"},
		{"missing version", func(d *model.DefinitionFile) { d.Version = "" }, "REQUIRED"},
		{"no searchers", func(d *model.DefinitionFile) { d.Searchers = nil }, "REQUIRED"},
		{"missing id", func(d *model.DefinitionFile) { d.Searchers[0].ID = "" }, "REQUIRED"},
		{"wrong namespace", func(d *model.DefinitionFile) { d.Searchers[0].ID = "claims.roles" }, "NAMESPACE_MISMATCH"},
		{"missing entity", func(d *model.DefinitionFile) { d.Searchers[0].Entity = "" }, "REQUIRED"},
		{"missing projections", func(d *model.DefinitionFile) { d.Searchers[0].Projections = nil }, "REQUIRED"},
		{"negative page size", func(d *model.DefinitionFile) { d.Searchers[0].PageSizes = []int{10, -1} }, "INVALID_VALUE"},
		{"default not allowed", func(d *model.DefinitionFile) { d.Searchers[0].DefaultPageSize = 15 }, "INVALID_VALUE"},
		{"negative default", func(d *model.DefinitionFile) { d.Searchers[0].DefaultPageSize = -5 }, "INVALID_VALUE"},
		{"filter without fragment", func(d *model.DefinitionFile) { d.Searchers[0].DefaultFilters[0].Filter = "" }, "REQUIRED"},
		{"duplicate filter", func(d *model.DefinitionFile) {
			d.Searchers[0].DefaultFilters = append(d.Searchers[0].DefaultFilters, d.Searchers[0].DefaultFilters[0])
		}, "DUPLICATE_ID"},
		{"bad right", func(d *model.DefinitionFile) { d.Searchers[0].Rights = []int{0} }, "INVALID_VALUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validFile()
			tt.mutate(&def)
			errs := NewValidator().Validate([]model.DefinitionFile{def})
			if !hasCode(errs, tt.code) {
				t.Errorf("Validate() = %v, want code %s", errs, tt.code)
			}
		})
	}
}

func TestValidator_duplicateAcrossFiles(t *testing.T) {
	a := validFile()
	b := validFile()
	b.SourceFile = "other.yaml"

	errs := NewValidator().Validate([]model.DefinitionFile{a, b})
	if !hasCode(errs, "DUPLICATE_ID") {
		t.Fatalf("Validate() = %v, want DUPLICATE_ID", errs)
	}
	if errs[0].Path != "definitions[1].searchers[0].id" {
		t.Errorf("Path = %q", errs[0].Path)
	}
}
