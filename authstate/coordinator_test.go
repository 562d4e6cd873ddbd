package authstate

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

// fakeIdentity scripts the upstream identity check and counts calls.
type fakeIdentity struct {
	email      string
	checkErr   error
	logoutErr  error
	checks     atomic.Int32
	logoutSeen atomic.Int32
}

func (f *fakeIdentity) CheckIdentity(ctx context.Context, token string) (string, error) {
	f.checks.Add(1)
	return f.email, f.checkErr
}

func (f *fakeIdentity) NotifyLogout(ctx context.Context, token string) error {
	f.logoutSeen.Add(1)
	return f.logoutErr
}

// staticNav reports a fixed location and records navigations without moving,
// unlike RecordedNavigator which follows the redirect.
type staticNav struct {
	path    string
	query   url.Values
	targets []string
}

func (n *staticNav) Path() string { return n.path }
func (n *staticNav) Query() url.Values {
	if n.query == nil {
		return url.Values{}
	}
	return n.query
}
func (n *staticNav) Replace(target string) { n.targets = append(n.targets, target) }

func newTestCoordinator(t *testing.T, store Store, identity IdentityClient) *Coordinator {
	t.Helper()
	c := NewCoordinator("sid-1", store, identity, nil, DefaultConfig())
	t.Cleanup(c.Close)
	return c
}

func TestInitializeLoggedOutSkipsIdentityCheck(t *testing.T) {
	identity := &fakeIdentity{}
	c := newTestCoordinator(t, NewMemoryStore(), identity)

	c.Initialize(context.Background())

	sess := c.Session()
	if sess.Loading() {
		t.Fatal("session must resolve immediately when the persisted flag is false")
	}
	if sess.Authenticated() {
		t.Fatal("session must be anonymous")
	}
	if identity.checks.Load() != 0 {
		t.Fatal("no identity check expected for a logged-out flag")
	}
}

func TestInitializeConfirmsAndRefreshesEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetLoggedIn(ctx, "sid-1", true)
	store.SetEmail(ctx, "sid-1", "old@x.com")
	store.SetTokens(ctx, "sid-1", "tok", "ref")

	identity := &fakeIdentity{email: "fresh@x.com"}
	c := newTestCoordinator(t, store, identity)
	c.Initialize(ctx)

	sess := c.Session()
	if !sess.Authenticated() {
		t.Fatal("session must be authenticated after a confirmed check")
	}
	if sess.Email != "fresh@x.com" {
		t.Fatalf("email = %q, want the server payload's email", sess.Email)
	}
	rec, _ := store.Load(ctx, "sid-1")
	if rec.Email != "fresh@x.com" {
		t.Fatalf("persisted email = %q, want refreshed value", rec.Email)
	}
}

func TestInitializeFallsBackToPersistedEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetLoggedIn(ctx, "sid-1", true)
	store.SetEmail(ctx, "sid-1", "stored@x.com")

	c := newTestCoordinator(t, store, &fakeIdentity{email: ""})
	c.Initialize(ctx)

	if got := c.Session().Email; got != "stored@x.com" {
		t.Fatalf("email = %q, want persisted fallback", got)
	}
}

func TestInitializeFailureRewritesPersistedFlags(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetLoggedIn(ctx, "sid-1", true)
	store.SetEmail(ctx, "sid-1", "user@x.com")

	c := newTestCoordinator(t, store, &fakeIdentity{checkErr: errors.New("connection refused")})
	c.Initialize(ctx)

	sess := c.Session()
	if sess.Authenticated() || sess.Loading() {
		t.Fatalf("session = %v, want confirmed anonymous", sess.Status)
	}
	rec, _ := store.Load(ctx, "sid-1")
	if rec.LoggedIn {
		t.Fatal("persisted flag must be rewritten to false")
	}
	if rec.Email != "" {
		t.Fatal("persisted email must be cleared")
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetLoggedIn(ctx, "sid-1", true)

	identity := &fakeIdentity{email: "a@x.com"}
	c := newTestCoordinator(t, store, identity)
	c.Initialize(ctx)
	c.Initialize(ctx)
	c.Initialize(ctx)

	if got := identity.checks.Load(); got != 1 {
		t.Fatalf("identity checks = %d, want exactly 1", got)
	}
}

func TestLogoutIsImmediateRegardlessOfUpstream(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetLoggedIn(ctx, "sid-1", true)
	store.SetEmail(ctx, "sid-1", "user@x.com")
	store.SetTokens(ctx, "sid-1", "tok", "ref")

	identity := &fakeIdentity{email: "user@x.com", logoutErr: errors.New("upstream down")}
	c := newTestCoordinator(t, store, identity)
	c.Initialize(ctx)

	nav := &staticNav{path: "/attivita"}
	done := c.Logout(ctx, nav)

	// Both the in-memory state and the persisted flags are already logged
	// out when Logout returns, before the background notification runs.
	if c.Session().Authenticated() {
		t.Fatal("session must be anonymous immediately after Logout")
	}
	rec, _ := store.Load(ctx, "sid-1")
	if rec.LoggedIn || rec.Email != "" || rec.AccessToken != "" {
		t.Fatalf("persisted record not cleared: %+v", rec)
	}
	if len(nav.targets) != 1 || nav.targets[0] != "/login" {
		t.Fatalf("navigation = %v, want /login", nav.targets)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("logout completion handle never closed")
	}
	if identity.logoutSeen.Load() != 1 {
		t.Fatal("upstream logout notification not attempted")
	}
}

func TestForceLoginRedirectNavigatesAtMostOnce(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	c.Initialize(context.Background())

	nav := &RecordedNavigator{CurrentPath: "/attivita"}
	if !c.ForceLoginRedirect(context.Background(), nav, "test") {
		t.Fatal("first redirect must be issued")
	}
	if c.ForceLoginRedirect(context.Background(), nav, "test") {
		t.Fatal("second redirect in rapid succession must be a no-op")
	}
	if len(nav.Targets) != 1 {
		t.Fatalf("navigations = %d, want exactly 1", len(nav.Targets))
	}
	if nav.Targets[0] != "/login?next=%2Fattivita" {
		t.Fatalf("target = %q", nav.Targets[0])
	}
}

func TestForceLoginRedirectNoopOnPublicPage(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	c.Initialize(context.Background())

	nav := &staticNav{path: "/login"}
	if c.ForceLoginRedirect(context.Background(), nav, "test") {
		t.Fatal("redirect from /login must return false")
	}
	if len(nav.targets) != 0 {
		t.Fatal("no navigation expected from a public page")
	}
}

func TestForceLoginRedirectNoopUnderAPIPrefix(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	nav := &staticNav{path: "/api/attivita"}
	if c.ForceLoginRedirect(context.Background(), nav, "test") {
		t.Fatal("redirect from an API path must return false")
	}
}

func TestForceLoginRedirectOmitsNextForRoot(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
	c.Initialize(context.Background())

	nav := &staticNav{path: "/"}
	if !c.ForceLoginRedirect(context.Background(), nav, "test") {
		t.Fatal("redirect from the root path must be issued")
	}
	if nav.targets[0] != "/login" {
		t.Fatalf("target = %q, want bare login route", nav.targets[0])
	}
}

func TestForceLoginRedirectAppliesLoggedOutState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetLoggedIn(ctx, "sid-1", true)
	c := newTestCoordinator(t, store, &fakeIdentity{email: "user@x.com"})
	c.Initialize(ctx)

	nav := &staticNav{path: "/mezzi"}
	c.ForceLoginRedirect(ctx, nav, "test")

	if c.Session().Authenticated() {
		t.Fatal("session must be anonymous after a forced redirect")
	}
	rec, _ := store.Load(ctx, "sid-1")
	if rec.LoggedIn || rec.Email != "" {
		t.Fatalf("persisted record must be cleared, got %+v", rec)
	}
}

func TestLoginNextResolution(t *testing.T) {
	tests := []struct {
		name string
		next string
		want string
	}{
		{name: "safe path", next: "/attivita", want: "/attivita"},
		{name: "public page rejected", next: "/login", want: "/"},
		{name: "register rejected", next: "/register", want: "/"},
		{name: "schema-relative rejected", next: "//evil.example", want: "/"},
		{name: "absolute URL rejected", next: "https://evil.example/x", want: "/"},
		{name: "missing", next: "", want: "/"},
		{name: "path with query kept", next: "/mezzi?stato=attivo", want: "/mezzi?stato=attivo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, NewMemoryStore(), &fakeIdentity{})
			query := url.Values{}
			if tt.next != "" {
				query.Set("next", tt.next)
			}
			nav := &staticNav{path: "/login", query: query}
			c.Login(context.Background(), nav, "user@x.com")
			if got := nav.targets[len(nav.targets)-1]; got != tt.want {
				t.Fatalf("destination = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoginPersistsFlagsAndBumpsEpoch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCoordinator(t, store, &fakeIdentity{})
	before := c.Epoch()

	c.Login(ctx, &staticNav{path: "/login"}, "user@x.com")

	rec, _ := store.Load(ctx, "sid-1")
	if !rec.LoggedIn || rec.Email != "user@x.com" {
		t.Fatalf("persisted record = %+v", rec)
	}
	if !c.Session().Authenticated() {
		t.Fatal("session must be authenticated after login")
	}
	if c.Epoch() == before {
		t.Fatal("login must advance the remount epoch")
	}
}

func TestLoginInvalidatesCachePrefixes(t *testing.T) {
	cache := NewQueryCache(0)
	cache.Set("/api/attivita", 200, "stale")
	cache.Set("/api/profile", 200, "stale")
	cache.Set("/api/mezzi", 200, "stale")

	c := NewCoordinator("sid-1", NewMemoryStore(), &fakeIdentity{}, cache, DefaultConfig())
	defer c.Close()
	c.Login(context.Background(), &staticNav{path: "/login"}, "user@x.com")

	if _, _, ok := cache.Get("/api/attivita"); ok {
		t.Fatal("activities cache must be invalidated before navigation")
	}
	if _, _, ok := cache.Get("/api/profile"); ok {
		t.Fatal("profile cache must be invalidated before navigation")
	}
	// The remaining prefixes are swept in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, ok := cache.Get("/api/mezzi"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("best-effort prefix never invalidated")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCrossTabChangeAppliesWithoutNavigation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCoordinator(t, store, &fakeIdentity{})
	c.Initialize(ctx)

	// Another tab logs in: the store changes, this coordinator follows.
	store.SetEmail(ctx, "sid-1", "tab2@x.com")
	store.SetLoggedIn(ctx, "sid-1", true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		sess := c.Session()
		if sess.Authenticated() && sess.Email == "tab2@x.com" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cross-tab state never applied, session = %+v", sess)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
