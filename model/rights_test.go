package model

import (
	"reflect"
	"testing"
)

func TestRightSet_Has(t *testing.T) {
	rs := NewRightSet(RightRoleSearch, RightRoleCreate)
	if !rs.Has(RightRoleSearch) {
		t.Error("Has(RightRoleSearch) = false, want true")
	}
	if rs.Has(RightRoleDelete) {
		t.Error("Has(RightRoleDelete) = true, want false")
	}
}

func TestRightSet_Has_nil(t *testing.T) {
	var rs RightSet
	if rs.Has(RightRoleSearch) {
		t.Error("nil set should not match anything")
	}
}

func TestRightSet_HasAll(t *testing.T) {
	rs := NewRightSet(1, 2, 3)
	if !rs.HasAll(1, 3) {
		t.Error("HasAll should be true when all present")
	}
	if rs.HasAll(1, 4) {
		t.Error("HasAll should be false when one missing")
	}
	if !rs.HasAll() {
		t.Error("HasAll with no arguments should be true")
	}
}

func TestRightSet_HasAny(t *testing.T) {
	rs := NewRightSet(1, 2)
	if !rs.HasAny(5, 2) {
		t.Error("HasAny should be true when one present")
	}
	if rs.HasAny(5, 6) {
		t.Error("HasAny should be false when none present")
	}
	if rs.HasAny() {
		t.Error("HasAny with no arguments should be false")
	}
}

func TestRightSet_Sorted(t *testing.T) {
	rs := RightSet{30: true, 10: true, 20: false, 5: true}
	got := rs.Sorted()
	want := []int{5, 10, 30}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted() = %v, want %v", got, want)
	}
}

func TestRightSet_Equal(t *testing.T) {
	a := NewRightSet(3, 1, 2)
	if !a.Equal(NewRightSet(1, 2, 3)) {
		t.Error("permuted sets should be equal")
	}
	if a.Equal(NewRightSet(1, 2)) {
		t.Error("subset should not be equal")
	}
	if !(RightSet{1: false}).Equal(RightSet{}) {
		t.Error("false entries should not count")
	}
}
