package model

// Action is a state-change event dispatched to a store.
type Action struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Meta    any    `json:"meta,omitempty"`
}

// Dispatcher accepts actions.
type Dispatcher interface {
	Dispatch(action Action)
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(Action)

// Dispatch calls f(action).
func (f DispatchFunc) Dispatch(action Action) { f(action) }

// ActionTypes is the request/response/error lifecycle triplet dispatched
// around one backend call.
type ActionTypes struct {
	Req  string
	Resp string
	Err  string
}

// NewActionTypes derives the lifecycle triplet for a prefix, e.g.
// "CORE_ROLES" gives CORE_ROLES_REQ, CORE_ROLES_RESP, CORE_ROLES_ERR.
func NewActionTypes(prefix string) ActionTypes {
	return ActionTypes{
		Req:  prefix + "_REQ",
		Resp: prefix + "_RESP",
		Err:  prefix + "_ERR",
	}
}

// Global alert actions. An alert carries a *ServiceError payload and stays
// in state until cleared.
const (
	ActionAlert      = "CORE_ALERT"
	ActionClearAlert = "CORE_ALERT_CLEAR"
)

// Journal actions. Both carry a MutationRecord payload.
const (
	ActionJournalAppend = "CORE_MUTATION_JOURNAL_APPEND"
	ActionJournalUpdate = "CORE_MUTATION_JOURNAL_UPDATE"
)

// Confirmation actions. Request carries the pending confirmation, Resolve
// carries its id.
const (
	ActionConfirmationRequest = "CORE_CONFIRM"
	ActionConfirmationResolve = "CORE_CONFIRM_RESOLVE"
)

// Lifecycle triplets of the authentication calls.
var (
	CurrentUserTypes = NewActionTypes("CORE_USERS_CURRENT_USER")
	LoginTypes       = NewActionTypes("CORE_AUTH_LOGIN")
	RefreshTypes     = NewActionTypes("CORE_AUTH_REFRESH")
	LogoutTypes      = NewActionTypes("CORE_AUTH_LOGOUT")
)

// Prefix returns the lifecycle prefix of an action type, or "" when the
// type is not a _REQ, _RESP or _ERR action.
func Prefix(actionType string) string {
	for _, suffix := range []string{"_REQ", "_RESP", "_ERR"} {
		if n := len(actionType) - len(suffix); n > 0 && actionType[n:] == suffix {
			return actionType[:n]
		}
	}
	return ""
}
