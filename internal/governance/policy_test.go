package governance

import "testing"

func TestMergePolicies(t *testing.T) {
	tests := []struct {
		name   string
		scopes []Policy
		tool   string
		allow  bool
	}{
		{"no scopes allows", nil, "x", true},
		{"deny accumulates", []Policy{{Deny: []string{"a"}}, {}}, "a", false},
		{"later deny still wins", []Policy{{}, {Deny: []string{"a"}}}, "a", false},
		{"allow narrows", []Policy{{Allow: []string{"a", "b"}}}, "c", false},
		{"narrow keeps listed", []Policy{{Allow: []string{"a", "b"}}}, "b", true},
		{"double narrow intersects", []Policy{{Allow: []string{"a", "b"}}, {Allow: []string{"b", "c"}}}, "a", false},
		{"double narrow keeps intersection", []Policy{{Allow: []string{"a", "b"}}, {Allow: []string{"b", "c"}}}, "b", true},
		{"deny beats allow in same scope", []Policy{{Allow: []string{"a"}, Deny: []string{"a"}}}, "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MergePolicies(tt.scopes...)
			if got := m.Allows(tt.tool); got != tt.allow {
				t.Errorf("Allows(%q) = %v, want %v", tt.tool, got, tt.allow)
			}
		})
	}
}

func TestMergedPolicyDenies(t *testing.T) {
	m := MergePolicies(Policy{Deny: []string{"shell"}}, Policy{Allow: []string{"shell"}})
	if !m.Denies("shell") {
		t.Error("denied tool should stay denied regardless of later allow")
	}
	if m.Denies("search") {
		t.Error("undenied tool reported as denied")
	}
}
