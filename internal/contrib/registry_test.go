package contrib

import (
	"fmt"
	"testing"
)

type greeter interface{ Greet() string }

type english struct{}

func (english) Greet() string { return "hello" }

func TestContributions(t *testing.T) {
	r := NewRegistry()
	r.Contribute(KeyRoutes, english{}, "not a greeter")
	r.Contribute(KeyRoutes, english{})

	if got := len(r.Contributions(KeyRoutes)); got != 3 {
		t.Errorf("len(Contributions) = %d, want 3", got)
	}
	if got := len(ContributionsOf[greeter](r, KeyRoutes)); got != 2 {
		t.Errorf("len(ContributionsOf[greeter]) = %d, want 2", got)
	}
	if got := ContributionsOf[greeter](r, "none"); got != nil {
		t.Errorf("ContributionsOf(none) = %v, want nil", got)
	}
}

func TestContributions_copies(t *testing.T) {
	r := NewRegistry()
	r.Contribute(KeyReadiness, english{})
	got := r.Contributions(KeyReadiness)
	got[0] = "replaced"
	if _, ok := r.Contributions(KeyReadiness)[0].(english); !ok {
		t.Error("Contributions exposed the registry's slice")
	}
}

func TestKeys_sorted(t *testing.T) {
	r := NewRegistry()
	for _, k := range []string{"b", "a", "c"} {
		r.Contribute(k, k)
	}
	r.Contribute("empty")
	if got := fmt.Sprint(r.Keys()); got != "[a b c]" {
		t.Errorf("Keys() = %s", got)
	}
}
