package authstate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeProfile struct {
	payload any
	err     error
	calls   atomic.Int32
}

func (f *fakeProfile) FetchProfile(ctx context.Context) (any, error) {
	f.calls.Add(1)
	return f.payload, f.err
}

func TestRoleGateHiddenWhileLoading(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	gate := NewRoleGate(c, &fakeProfile{})

	if got := gate.Decide(context.Background(), []string{"STAFF"}); got != DecisionHidden {
		t.Fatalf("decision = %v, want hidden while loading", got)
	}
}

func TestRoleGateDeniedWhenUnauthenticated(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	c.Initialize(context.Background())
	gate := NewRoleGate(c, &fakeProfile{})

	if got := gate.Decide(context.Background(), []string{"STAFF"}); got != DecisionDenied {
		t.Fatalf("decision = %v, want denied", got)
	}
}

func TestRoleGateCaseInsensitiveComparison(t *testing.T) {
	tests := []struct {
		name    string
		role    string
		allowed []string
		want    Decision
	}{
		{name: "lowercase role denied", role: "operatore", allowed: []string{"STAFF"}, want: DecisionDenied},
		{name: "mixed case allowed", role: "staff", allowed: []string{"STAFF"}, want: DecisionAllowed},
		{name: "uppercase allowed", role: "STAFF", allowed: []string{"staff"}, want: DecisionAllowed},
		{name: "empty list allows any role", role: "CLIENTE", allowed: nil, want: DecisionAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := authedCoordinator(t, NewMemoryStore())
			c.SetRole(tt.role)
			gate := NewRoleGate(c, &fakeProfile{})
			if got := gate.Decide(context.Background(), tt.allowed); got != tt.want {
				t.Fatalf("decision = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoleGateLazyProfileFetchHappensOnce(t *testing.T) {
	c := authedCoordinator(t, NewMemoryStore())
	profile := &fakeProfile{payload: map[string]any{"ruolo": "STAFF"}}
	gate := NewRoleGate(c, profile)

	for i := 0; i < 3; i++ {
		if got := gate.Decide(context.Background(), []string{"STAFF"}); got != DecisionAllowed {
			t.Fatalf("decision = %v, want allowed", got)
		}
	}
	if profile.calls.Load() != 1 {
		t.Fatalf("profile fetches = %d, want 1", profile.calls.Load())
	}
	// The fetched role is promoted onto the session for other consumers.
	if c.Session().Role != "STAFF" {
		t.Fatal("resolved role must be recorded on the session")
	}
}

func TestRoleGateSkipsFetchWhenSessionHasRole(t *testing.T) {
	c := authedCoordinator(t, NewMemoryStore())
	c.SetRole("OPERATORE")
	profile := &fakeProfile{}
	gate := NewRoleGate(c, profile)

	gate.Decide(context.Background(), []string{"OPERATORE"})
	if profile.calls.Load() != 0 {
		t.Fatal("no profile fetch expected when the session carries a role")
	}
}

func TestRoleGateHiddenWhileRoleUnresolved(t *testing.T) {
	c := authedCoordinator(t, NewMemoryStore())
	// Profile exists but has no role field: unresolved without error.
	gate := NewRoleGate(c, &fakeProfile{payload: map[string]any{"email": "x"}})

	if got := gate.Decide(context.Background(), []string{"STAFF"}); got != DecisionHidden {
		t.Fatalf("decision = %v, want hidden while unresolved", got)
	}
}

func TestRoleGateFetchErrorDeniesRestrictedContent(t *testing.T) {
	c := authedCoordinator(t, NewMemoryStore())
	gate := NewRoleGate(c, &fakeProfile{err: errors.New("boom")})

	if got := gate.Decide(context.Background(), []string{"STAFF"}); got != DecisionDenied {
		t.Fatalf("decision = %v, want denied on fetch error", got)
	}
	// An empty allowed list still admits any authenticated user.
	if got := gate.Decide(context.Background(), nil); got != DecisionAllowed {
		t.Fatalf("decision = %v, want allowed for empty role list", got)
	}
}

func TestRoleFromProfileKeyVariants(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{name: "ruolo", payload: map[string]any{"ruolo": "STAFF"}, want: "STAFF"},
		{name: "role", payload: map[string]any{"role": "CLIENTE"}, want: "CLIENTE"},
		{name: "nested user.ruolo", payload: map[string]any{"user": map[string]any{"ruolo": "OPERATORE"}}, want: "OPERATORE"},
		{name: "nested user.role", payload: map[string]any{"user": map[string]any{"role": "STAFF"}}, want: "STAFF"},
		{name: "missing", payload: map[string]any{"email": "x"}, want: ""},
		{name: "not a map", payload: []any{"STAFF"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleFromProfile(tt.payload); got != tt.want {
				t.Fatalf("role = %q, want %q", got, tt.want)
			}
		})
	}
}
