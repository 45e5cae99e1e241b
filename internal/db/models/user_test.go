package models

import (
	"testing"
)

// ---------------------------------------------------------------------------
// User.Scopes
// ---------------------------------------------------------------------------

func TestUserScopes(t *testing.T) {
	t.Run("admin role grants admin scope", func(t *testing.T) {
		u := &User{Role: RoleAdmin}
		scopes := u.Scopes()
		if len(scopes) != 1 || scopes[0] != "admin" {
			t.Errorf("Scopes() = %v, want [admin]", scopes)
		}
	})

	t.Run("agent role can manage apps and keys", func(t *testing.T) {
		u := &User{Role: RoleAgent}
		scopes := u.Scopes()
		want := map[string]bool{"apps:read": true, "apps:write": true, "api_keys:manage": true}
		if len(scopes) != len(want) {
			t.Fatalf("Scopes() len = %d, want %d", len(scopes), len(want))
		}
		for _, s := range scopes {
			if !want[s] {
				t.Errorf("unexpected scope %q", s)
			}
		}
	})

	t.Run("viewer role is read only", func(t *testing.T) {
		u := &User{Role: RoleViewer}
		scopes := u.Scopes()
		if len(scopes) != 1 || scopes[0] != "apps:read" {
			t.Errorf("Scopes() = %v, want [apps:read]", scopes)
		}
	})

	t.Run("unknown role grants nothing", func(t *testing.T) {
		u := &User{Role: "superuser"}
		if scopes := u.Scopes(); len(scopes) != 0 {
			t.Errorf("Scopes() = %v, want none", scopes)
		}
	})
}
