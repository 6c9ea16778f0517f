package definition

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/portico/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates definitions structurally and checks searcher ids are
// unique across files.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions.
func (v *Validator) Validate(defs []model.DefinitionFile) []VError {
	var errs []VError
	seen := make(map[string]string)
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateFile(prefix, def)...)

		for j, s := range def.Searchers {
			if s.ID == "" {
				continue
			}
			if other, dup := seen[s.ID]; dup {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.searchers[%d].id", prefix, j),
					Code:    "DUPLICATE_ID",
					Message: fmt.Sprintf("searcher %q already defined in %s", s.ID, other),
				})
				continue
			}
			seen[s.ID] = def.SourceFile
		}
	}
	return errs
}

func (v *Validator) validateFile(prefix string, def model.DefinitionFile) []VError {
	var errs []VError

	if def.Module == "" {
		errs = append(errs, VError{Path: prefix + ".module", Code: "REQUIRED", Message: "module is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(def.Searchers) == 0 {
		errs = append(errs, VError{Path: prefix + ".searchers", Code: "REQUIRED", Message: "at least one searcher is required"})
	}

	for i, s := range def.Searchers {
		sp := fmt.Sprintf("%s.searchers[%d]", prefix, i)
		errs = append(errs, v.validateSearcher(sp, s, def.Module)...)
	}
	return errs
}

func (v *Validator) validateSearcher(prefix string, s model.SearcherDefinition, module string) []VError {
	var errs []VError

	if s.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	} else if module != "" && !strings.HasPrefix(s.ID, module+".") {
		errs = append(errs, VError{
			Path:    prefix + ".id",
			Code:    "NAMESPACE_MISMATCH",
			Message: fmt.Sprintf("searcher %q does not match module %q", s.ID, module),
		})
	}
	if s.Entity == "" {
		errs = append(errs, VError{Path: prefix + ".entity", Code: "REQUIRED", Message: "entity is required"})
	}
	if len(s.Projections) == 0 {
		errs = append(errs, VError{Path: prefix + ".projections", Code: "REQUIRED", Message: "at least one projection is required"})
	}

	for i, size := range s.PageSizes {
		if size <= 0 {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.page_sizes[%d]", prefix, i),
				Code:    "INVALID_VALUE",
				Message: "page sizes must be positive",
			})
		}
	}
	if s.DefaultPageSize < 0 {
		errs = append(errs, VError{Path: prefix + ".default_page_size", Code: "INVALID_VALUE", Message: "default_page_size must not be negative"})
	} else if s.DefaultPageSize > 0 && len(s.PageSizes) > 0 && !slices.Contains(s.PageSizes, s.DefaultPageSize) {
		errs = append(errs, VError{
			Path:    prefix + ".default_page_size",
			Code:    "INVALID_VALUE",
			Message: fmt.Sprintf("default_page_size %d is not one of page_sizes", s.DefaultPageSize),
		})
	}

	filterIDs := make(map[string]bool)
	for i, f := range s.DefaultFilters {
		fp := fmt.Sprintf("%s.default_filters[%d]", prefix, i)
		if f.ID == "" {
			errs = append(errs, VError{Path: fp + ".id", Code: "REQUIRED", Message: "filter id is required"})
		} else if filterIDs[f.ID] {
			errs = append(errs, VError{Path: fp + ".id", Code: "DUPLICATE_ID", Message: fmt.Sprintf("filter %q defined twice", f.ID)})
		}
		filterIDs[f.ID] = true
		if f.Filter == "" {
			errs = append(errs, VError{Path: fp + ".filter", Code: "REQUIRED", Message: "filter fragment is required"})
		}
	}

	for i, r := range s.Rights {
		if r <= 0 {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.rights[%d]", prefix, i),
				Code:    "INVALID_VALUE",
				Message: "rights must be positive ids",
			})
		}
	}
	return errs
}
