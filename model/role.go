package model

import "time"

// Role is a named bundle of rights.
type Role struct {
	ID           string     `json:"id,omitempty"`
	UUID         string     `json:"uuid,omitempty"`
	Name         string     `json:"name"         validate:"required,max=255"`
	AltLanguage  string     `json:"altLanguage"  validate:"max=255"`
	IsSystem     bool       `json:"isSystem"`
	IsBlocked    bool       `json:"isBlocked"`
	ValidityFrom *time.Time `json:"validityFrom,omitempty"`
	ValidityTo   *time.Time `json:"validityTo,omitempty"`
	RoleRights   []int      `json:"roleRights"   validate:"dive,gt=0"`
}

// Clone returns a deep copy of the role.
func (r Role) Clone() Role {
	out := r
	if r.RoleRights != nil {
		out.RoleRights = append([]int(nil), r.RoleRights...)
	}
	if r.ValidityFrom != nil {
		t := *r.ValidityFrom
		out.ValidityFrom = &t
	}
	if r.ValidityTo != nil {
		t := *r.ValidityTo
		out.ValidityTo = &t
	}
	return out
}

// Permission is one entry in a module's permission catalog.
type Permission struct {
	PermsName  string `json:"permsName"`
	PermsValue int    `json:"permsValue"`
}

// ModulePermissions is the permission catalog of a single module.
type ModulePermissions struct {
	ModuleName  string       `json:"moduleName"`
	Permissions []Permission `json:"permissions"`
}
