package role

import (
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/model"
)

const rolesEntity = "role"

// SearcherID identifies the role list. A loaded definition with this id
// overrides DefaultSearcher.
const SearcherID = "core.roles"

// DefaultSearcher is the role list used when no definition is loaded.
func DefaultSearcher() model.SearcherDefinition {
	return model.SearcherDefinition{
		ID:              SearcherID,
		Entity:          rolesEntity,
		Projections:     Projections,
		WithCount:       true,
		DefaultPageSize: 10,
		PageSizes:       []int{10, 20, 50},
		DefaultOrderBy:  "name",
		DefaultFilters: []model.FilterDefinition{
			{ID: "isSystem", Value: false, Filter: "isSystem: false"},
		},
		CacheKey: "core.roles",
		Rights:   []int{model.RightRoleSearch},
	}
}

// Projections are the role fields fetched for lists and detail views.
var Projections = []string{
	"id",
	"uuid",
	"name",
	"altLanguage",
	"isSystem",
	"isBlocked",
	"validityFrom",
	"validityTo",
	"roleRights { rightId }",
}

// Action type triplets dispatched by the role flow.
var (
	SearchTypes  = model.NewActionTypes("CORE_ROLES")
	FetchTypes   = model.NewActionTypes("CORE_ROLE")
	CreateTypes  = model.NewActionTypes("CORE_CREATE_ROLE")
	UpdateTypes  = model.NewActionTypes("CORE_UPDATE_ROLE")
	DeleteTypes  = model.NewActionTypes("CORE_DELETE_ROLE")
	CatalogTypes = model.NewActionTypes("CORE_MODULEPERMISSIONS")
)

type node struct {
	ID           string  `json:"id"`
	UUID         string  `json:"uuid"`
	Name         string  `json:"name"`
	AltLanguage  *string `json:"altLanguage"`
	IsSystem     bool    `json:"isSystem"`
	IsBlocked    bool    `json:"isBlocked"`
	ValidityFrom *string `json:"validityFrom"`
	ValidityTo   *string `json:"validityTo"`
	RoleRights   []struct {
		RightID int `json:"rightId"`
	} `json:"roleRights"`
}

func (n node) role() model.Role {
	r := model.Role{
		ID:           n.ID,
		UUID:         n.UUID,
		Name:         n.Name,
		IsSystem:     n.IsSystem,
		IsBlocked:    n.IsBlocked,
		ValidityFrom: graphql.ParseTimePtr(n.ValidityFrom),
		ValidityTo:   graphql.ParseTimePtr(n.ValidityTo),
		RoleRights:   make([]int, 0, len(n.RoleRights)),
	}
	if n.AltLanguage != nil {
		r.AltLanguage = *n.AltLanguage
	}
	for _, rr := range n.RoleRights {
		r.RoleRights = append(r.RoleRights, rr.RightID)
	}
	return r
}

// formatInput renders the mutation input fields of r. The uuid is only
// rendered for updates.
func formatInput(r model.Role, withUUID bool) string {
	parts := make([]string, 0, 8)
	if withUUID {
		parts = append(parts, graphql.StringArg("uuid", r.UUID))
	}
	parts = append(parts, graphql.StringArg("name", r.Name))
	if r.AltLanguage != "" {
		parts = append(parts, graphql.StringArg("altLanguage", r.AltLanguage))
	}
	parts = append(parts,
		"isSystem: "+strconv.FormatBool(r.IsSystem),
		"isBlocked: "+strconv.FormatBool(r.IsBlocked),
	)
	if r.ValidityFrom != nil {
		parts = append(parts, graphql.StringArg("validityFrom", r.ValidityFrom.UTC().Format(time.RFC3339)))
	}
	if r.ValidityTo != nil {
		parts = append(parts, graphql.StringArg("validityTo", r.ValidityTo.UTC().Format(time.RFC3339)))
	}
	parts = append(parts, "permissionsIds: "+intList(r.RoleRights))
	return strings.Join(parts, " ")
}

func intList(ids []int) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.Itoa(id)
	}
	return "[" + strings.Join(s, ", ") + "]"
}
