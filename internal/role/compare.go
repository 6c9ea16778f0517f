package role

import (
	"time"

	"github.com/pitabwire/portico/model"
)

// DoesRoleChange reports whether edited differs from saved. Scalar fields
// are compared directly; role rights are compared as sets.
func DoesRoleChange(edited, saved model.Role) bool {
	if edited.Name != saved.Name ||
		edited.AltLanguage != saved.AltLanguage ||
		edited.IsSystem != saved.IsSystem ||
		edited.IsBlocked != saved.IsBlocked {
		return true
	}
	if !sameTime(edited.ValidityFrom, saved.ValidityFrom) || !sameTime(edited.ValidityTo, saved.ValidityTo) {
		return true
	}
	return !model.NewRightSet(edited.RoleRights...).Equal(model.NewRightSet(saved.RoleRights...))
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// PrepareDuplicate returns a copy of r that saves as a new role: identity
// is stripped, name and flags are reset, rights are kept.
func PrepareDuplicate(r model.Role) model.Role {
	out := r.Clone()
	out.ID = ""
	out.UUID = ""
	out.Name = ""
	out.AltLanguage = ""
	out.IsSystem = false
	out.IsBlocked = false
	return out
}
