package authstate

import (
	"context"
	"testing"

	"fleetgate/apiclient"
)

func authedCoordinator(t *testing.T, store *MemoryStore) *Coordinator {
	t.Helper()
	ctx := context.Background()
	store.SetLoggedIn(ctx, "sid-1", true)
	c := newTestCoordinator(t, store, &fakeIdentity{email: "user@x.com"})
	c.Initialize(ctx)
	return c
}

func TestGuardInitialCheckFiresOncePerEpisode(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	c.Initialize(context.Background())
	g := NewGuard(c)

	nav := &staticNav{path: "/attivita"}
	if !g.CheckInitial(context.Background(), nav) {
		t.Fatal("first check on a protected page must redirect")
	}
	// Re-renders of the same page must not redirect again.
	if g.CheckInitial(context.Background(), nav) {
		t.Fatal("second check must be suppressed by the has-checked flag")
	}
	if len(nav.targets) != 1 {
		t.Fatalf("navigations = %d, want 1", len(nav.targets))
	}
}

func TestGuardRearmsOnNewProtectedPath(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	c.Initialize(context.Background())
	g := NewGuard(c)

	first := &staticNav{path: "/attivita"}
	g.CheckInitial(context.Background(), first)

	// Still unauthenticated, now on a different protected page: the check
	// must run again.
	second := &staticNav{path: "/mezzi"}
	if !g.CheckInitial(context.Background(), second) {
		t.Fatal("check must re-fire after navigating to a new protected path")
	}
}

func TestGuardSkipsWhileLoading(t *testing.T) {
	// No Initialize: the session is still in the unknown phase.
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	g := NewGuard(c)

	nav := &staticNav{path: "/attivita"}
	if g.CheckInitial(context.Background(), nav) {
		t.Fatal("no redirect decision before loading resolves")
	}
	if !g.Loading() {
		t.Fatal("guard must report loading")
	}
}

func TestGuardIgnoresPublicRoutes(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	c.Initialize(context.Background())
	g := NewGuard(c)

	for _, path := range []string{"/login", "/register", "/logout"} {
		if g.CheckInitial(context.Background(), &staticNav{path: path}) {
			t.Fatalf("public route %s must never be checked", path)
		}
	}
}

func TestGuardPassesAuthenticatedUser(t *testing.T) {
	c := authedCoordinator(t, NewMemoryStore())
	g := NewGuard(c)

	nav := &staticNav{path: "/attivita"}
	if g.CheckInitial(context.Background(), nav) {
		t.Fatal("authenticated session must not redirect")
	}
	if !g.Authenticated() {
		t.Fatal("guard must report authenticated")
	}
}

func TestGuardHandles401OncePerEpisode(t *testing.T) {
	c := authedCoordinator(t, NewMemoryStore())
	g := NewGuard(c)

	authErr := &apiclient.Error{Status: 401, AuthError: true}
	nav := &staticNav{path: "/documenti"}

	if !g.ObserveErrors(context.Background(), nav, []error{nil, authErr}) {
		t.Fatal("first 401 must trigger a redirect")
	}
	if g.ObserveErrors(context.Background(), nav, []error{authErr}) {
		t.Fatal("repeated 401s in the same episode must be ignored")
	}
	if len(nav.targets) != 1 {
		t.Fatalf("navigations = %d, want 1", len(nav.targets))
	}
}

func TestGuardIgnoresNonAuthErrors(t *testing.T) {
	c := authedCoordinator(t, NewMemoryStore())
	g := NewGuard(c)

	nav := &staticNav{path: "/documenti"}
	errs := []error{&apiclient.Error{Status: 500}, &apiclient.Error{Status: 404}}
	if g.ObserveErrors(context.Background(), nav, errs) {
		t.Fatal("non-auth errors must not redirect")
	}
}

func TestGuard401EpisodeClearsOnReauthentication(t *testing.T) {
	store := NewMemoryStore()
	c := authedCoordinator(t, store)
	g := NewGuard(c)

	authErr := &apiclient.Error{Status: 401, AuthError: true}
	nav := &staticNav{path: "/documenti"}
	g.ObserveErrors(context.Background(), nav, []error{authErr})

	// Logging in again starts a fresh episode; a new 401 is handled anew.
	c.Login(context.Background(), &staticNav{path: "/login"}, "user@x.com")
	nav2 := &staticNav{path: "/documenti"}
	if !g.ObserveErrors(context.Background(), nav2, []error{authErr}) {
		t.Fatal("a fresh 401 after re-login must redirect again")
	}
}

func TestGuardInitialCheckRearmsAfterLogout(t *testing.T) {
	c := authedCoordinator(t, NewMemoryStore())
	g := NewGuard(c)

	nav := &staticNav{path: "/attivita"}
	if g.CheckInitial(context.Background(), nav) {
		t.Fatal("authenticated check must pass")
	}

	<-c.Logout(context.Background(), &staticNav{path: "/attivita"})

	if !g.CheckInitial(context.Background(), nav) {
		t.Fatal("check must fire again after logout")
	}
}

func TestGuardManualTriggerRespectsGuards(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	c.Initialize(context.Background())
	g := NewGuard(c)

	if g.Trigger(context.Background(), &staticNav{path: "/login"}, "manual") {
		t.Fatal("manual trigger from a public page must be refused")
	}
	if !g.Trigger(context.Background(), &staticNav{path: "/attivita"}, "manual") {
		t.Fatal("manual trigger from a protected page must redirect")
	}
}
