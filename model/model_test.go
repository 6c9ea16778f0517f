package model

import (
	"reflect"
	"testing"
	"time"
)

func TestFilters_Fragments_sorted_by_id(t *testing.T) {
	f := Filters{
		"name":     {ID: "name", Value: "Admin", Filter: `name_Icontains: "Admin"`},
		"blocked":  {ID: "blocked", Value: false, Filter: "isBlocked: false"},
		"disabled": {ID: "disabled", Value: nil, Filter: ""},
	}
	got := f.Fragments()
	want := []string{"isBlocked: false", `name_Icontains: "Admin"`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Fragments() = %v, want %v", got, want)
	}
}

func TestFilters_With_last_write_wins(t *testing.T) {
	f := Filters{"name": {ID: "name", Value: "a", Filter: `name_Icontains: "a"`}}
	g := f.With(Filter{ID: "name", Value: "b", Filter: `name_Icontains: "b"`})

	if g["name"].Value != "b" {
		t.Errorf("name value = %v, want b", g["name"].Value)
	}
	if f["name"].Value != "a" {
		t.Error("With mutated the receiver")
	}
}

func TestFilters_With_empty_fragment_removes(t *testing.T) {
	f := Filters{"name": {ID: "name", Value: "a", Filter: `name_Icontains: "a"`}}
	g := f.With(Filter{ID: "name"})
	if _, ok := g["name"]; ok {
		t.Error("empty fragment should remove the filter")
	}
}

func TestMutationRecord_ParseError(t *testing.T) {
	r := &MutationRecord{Status: MutationError, Error: `[{"message":"duplicate name"}]`}
	r.ParseError()
	if string(r.ParsedError) != r.Error {
		t.Errorf("ParsedError = %s, want %s", r.ParsedError, r.Error)
	}

	raw := &MutationRecord{Status: MutationError, Error: "plain failure"}
	raw.ParseError()
	if raw.ParsedError != nil {
		t.Errorf("ParsedError = %s, want nil for non-JSON error", raw.ParsedError)
	}
}

func TestMutationStatus_String(t *testing.T) {
	tests := map[MutationStatus]string{
		MutationPending:   "pending",
		MutationError:     "error",
		MutationSucceeded: "succeeded",
		MutationStatus(9): "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("MutationStatus(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestMutationRecord_IsFinal(t *testing.T) {
	tests := map[MutationStatus]bool{
		MutationPending:    false,
		MutationError:      true,
		MutationSucceeded:  true,
		MutationStatus(3):  false,
		MutationStatus(-1): false,
	}
	for s, want := range tests {
		r := &MutationRecord{Status: s}
		if got := r.IsFinal(); got != want {
			t.Errorf("status %d: IsFinal() = %v, want %v", int(s), got, want)
		}
	}
}

func TestRole_Clone_is_deep(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Role{Name: "Clerk", RoleRights: []int{1, 2}, ValidityFrom: &from}
	c := r.Clone()
	c.RoleRights[0] = 99
	*c.ValidityFrom = from.AddDate(1, 0, 0)

	if r.RoleRights[0] != 1 {
		t.Error("Clone shares RoleRights backing array")
	}
	if !r.ValidityFrom.Equal(from) {
		t.Error("Clone shares ValidityFrom pointer")
	}
}

func TestNewActionTypes(t *testing.T) {
	at := NewActionTypes("CORE_ROLES")
	if at.Req != "CORE_ROLES_REQ" || at.Resp != "CORE_ROLES_RESP" || at.Err != "CORE_ROLES_ERR" {
		t.Errorf("NewActionTypes() = %+v", at)
	}
}

func TestSearcherDefinition_Filters(t *testing.T) {
	d := SearcherDefinition{
		DefaultFilters: []FilterDefinition{{ID: "blocked", Value: false, Filter: "isBlocked: false"}},
	}
	f := d.Filters()
	if f["blocked"].Filter != "isBlocked: false" {
		t.Errorf("Filters()[blocked] = %+v", f["blocked"])
	}
}

func TestPrefix(t *testing.T) {
	tests := map[string]string{
		"CORE_ROLES_REQ":  "CORE_ROLES",
		"CORE_ROLES_RESP": "CORE_ROLES",
		"CORE_ROLES_ERR":  "CORE_ROLES",
		"CORE_ALERT":      "",
		"_REQ":            "",
	}
	for in, want := range tests {
		if got := Prefix(in); got != want {
			t.Errorf("Prefix(%q) = %q, want %q", in, got, want)
		}
	}
}
