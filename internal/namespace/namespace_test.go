package namespace

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	for _, tc := range []struct {
		name    string
		code    int16
		want    Namespace
		wantErr bool
	}{
		{"UserProfile", 2, UserProfile, false},
		{"ClosedGroupInfo", 11, ClosedGroupInfo, false},
		{"Unknown", 99, 0, true},
		{"Negative", -1, 0, true},
		{"Zero", 0, 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.code)
			if tc.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("Resolve(%d) err = %v, want ErrNotFound", tc.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%d): %v", tc.code, err)
			}
			if got != tc.want {
				t.Errorf("Resolve(%d) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestWireCodesStable(t *testing.T) {
	// These values are shared with every peer and must never change.
	if UserProfile.WireCode() != 2 {
		t.Errorf("UserProfile wire code = %d, want 2", UserProfile.WireCode())
	}
	if ClosedGroupInfo.WireCode() != 11 {
		t.Errorf("ClosedGroupInfo wire code = %d, want 11", ClosedGroupInfo.WireCode())
	}
}

func TestRegistryUnique(t *testing.T) {
	seen := map[Namespace]bool{}
	names := map[string]bool{}
	for _, e := range registry {
		if seen[e.ns] {
			t.Errorf("duplicate wire code %d", e.ns)
		}
		if names[e.name] {
			t.Errorf("duplicate name %q", e.name)
		}
		seen[e.ns] = true
		names[e.name] = true
		if l := len(e.domain); l < 1 || l > 24 {
			t.Errorf("%s: encryption domain length %d out of range", e.name, l)
		}
		keys := map[string]bool{}
		for _, f := range e.schema.Fields {
			if keys[f.Key] {
				t.Errorf("%s: duplicate schema key %q", e.name, f.Key)
			}
			keys[f.Key] = true
		}
	}
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Namespace
		wantErr bool
	}{
		{"UserProfile", UserProfile, false},
		{"userprofile", UserProfile, false},
		{"closedgroupinfo", ClosedGroupInfo, false},
		{"11", ClosedGroupInfo, false},
		{"12", 0, true},
		{"bogus", 0, true},
	} {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Parse(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestAccessors(t *testing.T) {
	if UserProfile.Scope() != ScopeIdentity {
		t.Errorf("UserProfile scope = %v", UserProfile.Scope())
	}
	if ClosedGroupInfo.Scope() != ScopeGroup {
		t.Errorf("ClosedGroupInfo scope = %v", ClosedGroupInfo.Scope())
	}
	if got := Namespace(42).String(); got != "Namespace(42)" {
		t.Errorf("unknown String() = %q", got)
	}
	if Namespace(42).Known() {
		t.Error("Namespace(42) should not be known")
	}
	if spec, ok := UserProfile.Schema().Lookup("q"); !ok || spec.Kind != KindBlob {
		t.Errorf("UserProfile q spec = %+v, %v", spec, ok)
	}
	if len(All()) != len(registry) {
		t.Errorf("All() len = %d", len(All()))
	}
}
