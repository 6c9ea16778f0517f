package capability

import (
	"fmt"

	"github.com/pitabwire/portico/model"
)

// Require returns a FORBIDDEN error unless rights holds at least one of
// required. An empty required list always passes.
func Require(rights model.RightSet, required ...int) error {
	if len(required) == 0 || rights.HasAny(required...) {
		return nil
	}
	return model.NewForbiddenError(fmt.Sprintf("missing right %v", required))
}

// RequireAll returns a FORBIDDEN error unless rights holds every right in
// required.
func RequireAll(rights model.RightSet, required ...int) error {
	for _, r := range required {
		if !rights.Has(r) {
			return model.NewForbiddenError(fmt.Sprintf("missing right %d", r))
		}
	}
	return nil
}

// RoleOperations maps role operations to the rights gating them.
var RoleOperations = map[string]int{
	"search":    model.RightRoleSearch,
	"create":    model.RightRoleCreate,
	"update":    model.RightRoleUpdate,
	"delete":    model.RightRoleDelete,
	"duplicate": model.RightRoleDuplicate,
}

// Operations lists the role operations allowed by rights.
func Operations(rights model.RightSet) map[string]bool {
	out := make(map[string]bool, len(RoleOperations))
	for op, right := range RoleOperations {
		out[op] = rights.Has(right)
	}
	return out
}
