package model

// DefinitionFile is the root structure of a searcher definition file. Each
// file declares the searchers one portal module contributes.
type DefinitionFile struct {
	Module    string               `yaml:"module"    json:"module"`
	Version   string               `yaml:"version"   json:"version"`
	Searchers []SearcherDefinition `yaml:"searchers" json:"searchers"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// SearcherDefinition describes a paginated, filterable list over one GraphQL
// connection.
type SearcherDefinition struct {
	ID              string             `yaml:"id"                json:"id"`
	Entity          string             `yaml:"entity"            json:"entity"`
	Projections     []string           `yaml:"projections"       json:"projections"`
	WithCount       bool               `yaml:"with_count"        json:"with_count"`
	DefaultPageSize int                `yaml:"default_page_size" json:"default_page_size"`
	PageSizes       []int              `yaml:"page_sizes"        json:"page_sizes,omitempty"`
	DefaultOrderBy  string             `yaml:"default_order_by"  json:"default_order_by,omitempty"`
	DefaultFilters  []FilterDefinition `yaml:"default_filters"   json:"default_filters,omitempty"`
	CacheKey        string             `yaml:"cache_key"         json:"cache_key,omitempty"`
	ResetOnUnmount  bool               `yaml:"reset_on_unmount"  json:"reset_on_unmount,omitempty"`
	Rights          []int              `yaml:"rights"            json:"rights,omitempty"`
}

// FilterDefinition is a default filter applied when a searcher mounts or is
// reset.
type FilterDefinition struct {
	ID     string `yaml:"id"     json:"id"`
	Value  any    `yaml:"value"  json:"value"`
	Filter string `yaml:"filter" json:"filter"`
}

// Filters converts the definition's default filters into a Filters map.
func (d SearcherDefinition) Filters() Filters {
	out := make(Filters, len(d.DefaultFilters))
	for _, fd := range d.DefaultFilters {
		out[fd.ID] = Filter{ID: fd.ID, Value: fd.Value, Filter: fd.Filter}
	}
	return out
}
