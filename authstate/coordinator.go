package authstate

import (
	"context"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"
)

// IdentityClient is what the coordinator needs from the upstream API: one
// "who am I" confirmation call and one best-effort session-termination
// notification. The gateway implements it on top of the normalized client.
type IdentityClient interface {
	// CheckIdentity confirms the stored credentials upstream and returns the
	// account email. Any error, network or status, means "not authenticated".
	CheckIdentity(ctx context.Context, accessToken string) (string, error)
	// NotifyLogout tells the upstream the session ended. Best-effort.
	NotifyLogout(ctx context.Context, accessToken string) error
}

// Cache is the slice of QueryCache the coordinator needs for its
// invalidation sweeps on login and logout.
type Cache interface {
	InvalidatePrefix(prefix string)
}

// Config carries the route layout the coordinator navigates against.
type Config struct {
	// LoginPath is where forced redirects and logout land.
	LoginPath string
	// DefaultLanding is the post-login destination when no usable "next"
	// parameter is present.
	DefaultLanding string
	// PublicPaths never trigger a forced redirect and are rejected as "next"
	// destinations.
	PublicPaths []string
	// APIPrefix marks proxy routes, which never navigate.
	APIPrefix string
	// InvalidatePrefixes are swept from the cache before navigating on
	// login/logout.
	InvalidatePrefixes []string
	// BestEffortPrefixes are swept in the background; failures are ignored
	// and never delay navigation.
	BestEffortPrefixes []string
}

// DefaultConfig returns the route layout of the management application.
func DefaultConfig() Config {
	return Config{
		LoginPath:          "/login",
		DefaultLanding:     "/",
		PublicPaths:        []string{"/login", "/register", "/logout"},
		APIPrefix:          "/api",
		InvalidatePrefixes: []string{"/api/profile", "/api/attivita"},
		BestEffortPrefixes: []string{"/api/documenti", "/api/mezzi", "/api/utenti"},
	}
}

// Coordinator owns the authentication state of one browser session. All
// mutation goes through its operations; views read snapshots via Session().
// It reconciles three sources: the persisted record (optimistic first
// render), the upstream identity check (authoritative), and change events
// from other tabs (passive sync, never navigating).
type Coordinator struct {
	cfg      Config
	sid      string
	store    Store
	identity IdentityClient
	cache    Cache

	mu          sync.Mutex
	status      Status
	email       string
	role        string
	redirecting bool
	epoch       uint64

	initOnce  sync.Once
	watchStop context.CancelFunc
}

// NewCoordinator builds a coordinator for the session identified by sid.
// cache may be nil when no proxied responses are memoized.
func NewCoordinator(sid string, store Store, identity IdentityClient, cache Cache, cfg Config) *Coordinator {
	if cfg.LoginPath == "" {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		cfg:      cfg,
		sid:      sid,
		store:    store,
		identity: identity,
		cache:    cache,
		status:   StatusUnknown,
	}
}

// SessionID returns the browser session this coordinator owns.
func (c *Coordinator) SessionID() string { return c.sid }

// Session returns a snapshot of the in-memory state.
func (c *Coordinator) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{Status: c.status, Email: c.email, Role: c.role}
}

// Epoch returns the remount generation. It advances on login and logout so
// that anything derived from the previous session (guard episodes, cached
// roles) knows to start over.
func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// SetRole records the role resolved for this session, typically from the
// access token's claims. An empty role means "unknown, fetch lazily".
func (c *Coordinator) SetRole(role string) {
	c.mu.Lock()
	c.role = role
	c.mu.Unlock()
}

// IsRedirectRecent reports whether a forced redirect is currently in flight.
// It is a plain flag, not a time window.
func (c *Coordinator) IsRedirectRecent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirecting
}

// Initialize reconciles the persisted flags with the upstream identity
// check. It runs its body exactly once per coordinator lifetime; later calls
// return immediately. When the persisted flag says logged out, no network
// call is made and the session resolves immediately. When it says logged in,
// one identity check decides: success confirms the session and refreshes the
// cached email from the server payload; any failure (status or network)
// resolves to logged out and rewrites the persisted flags so a stale "true"
// never survives.
func (c *Coordinator) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		defer c.startWatch()

		rec, err := c.store.Load(ctx, c.sid)
		if err != nil {
			log.Printf("authstate: loading persisted session %s: %v", c.sid, err)
			c.resolve(StatusAnonymous, "")
			return
		}
		if !rec.LoggedIn {
			c.resolve(StatusAnonymous, "")
			return
		}

		serverEmail, err := c.identity.CheckIdentity(ctx, rec.AccessToken)
		if err != nil {
			// Identity could not be confirmed: treat as logged out, never as
			// a crash. See the open-question note in DESIGN.md about doing
			// this on transient network errors too.
			_ = c.store.SetEmail(ctx, c.sid, "")
			_ = c.store.SetLoggedIn(ctx, c.sid, false)
			c.resolve(StatusAnonymous, "")
			return
		}

		email := serverEmail
		if email == "" {
			email = rec.Email
		}
		if email != rec.Email {
			_ = c.store.SetEmail(ctx, c.sid, email)
		}
		c.resolve(StatusAuthenticated, email)
	})
}

// Login records a successful authentication and navigates to the post-login
// destination. The "next" query parameter of the current location is honored
// only when it is a same-origin absolute path and not a public route;
// otherwise the default landing is used. Cache invalidation runs before the
// navigation but can never fail it.
func (c *Coordinator) Login(ctx context.Context, nav Navigator, email string) {
	c.mu.Lock()
	c.redirecting = false
	c.mu.Unlock()

	_ = c.store.SetEmail(ctx, c.sid, email)
	_ = c.store.SetLoggedIn(ctx, c.sid, true)

	c.mu.Lock()
	c.status = StatusAuthenticated
	c.email = email
	c.epoch++
	c.mu.Unlock()

	dest := c.resolveNext(nav)
	c.invalidate()
	nav.Replace(dest)
}

// Logout clears the session locally, then notifies the upstream in the
// background and navigates to the login route. The local state and the
// persisted flags are already logged out when Logout returns, whatever the
// network does later. The returned channel closes once the background
// notification has been attempted.
func (c *Coordinator) Logout(ctx context.Context, nav Navigator) <-chan struct{} {
	rec, _ := c.store.Load(ctx, c.sid)

	c.mu.Lock()
	c.status = StatusAnonymous
	c.email = ""
	c.role = ""
	c.redirecting = false
	c.epoch++
	c.mu.Unlock()

	_ = c.store.SetLoggedIn(ctx, c.sid, false)
	_ = c.store.SetEmail(ctx, c.sid, "")
	_ = c.store.SetTokens(ctx, c.sid, "", "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.identity.NotifyLogout(notifyCtx, rec.AccessToken); err != nil {
			log.Printf("authstate: logout notification failed: %v", err)
		}
	}()

	c.invalidate()
	nav.Replace(c.cfg.LoginPath)
	return done
}

// ForceLoginRedirect drives the unauthenticated user to the login page. It
// is a no-op on public pages, under the API prefix, and while another
// redirect is in flight. The logged-out state is applied even when the
// navigation itself is skipped. It returns true iff navigation was issued.
func (c *Coordinator) ForceLoginRedirect(ctx context.Context, nav Navigator, reason string) bool {
	path := nav.Path()
	if c.isPublic(path) || strings.HasPrefix(path, c.cfg.APIPrefix) {
		return false
	}

	c.mu.Lock()
	if c.redirecting {
		c.mu.Unlock()
		return false
	}
	c.redirecting = true
	c.status = StatusAnonymous
	c.email = ""
	c.role = ""
	c.mu.Unlock()

	// A forced redirect means the credentials are no good; drop them.
	_ = c.store.SetLoggedIn(ctx, c.sid, false)
	_ = c.store.SetEmail(ctx, c.sid, "")
	_ = c.store.SetTokens(ctx, c.sid, "", "")

	current := currentLocation(nav)
	target := c.cfg.LoginPath
	if path != "/" && !c.isPublic(path) {
		target += "?next=" + url.QueryEscape(current)
	}

	if target == current {
		c.mu.Lock()
		c.redirecting = false
		c.mu.Unlock()
		return false
	}

	log.Printf("authstate: forcing login redirect (%s) -> %s", reason, target)
	nav.Replace(target)
	c.mu.Lock()
	c.redirecting = false
	c.mu.Unlock()
	return true
}

// Close stops the cross-tab watcher, if one is running.
func (c *Coordinator) Close() {
	if c.watchStop != nil {
		c.watchStop()
	}
}

// resolve sets the confirmed state and ends the loading phase.
func (c *Coordinator) resolve(status Status, email string) {
	c.mu.Lock()
	c.status = status
	c.email = email
	c.mu.Unlock()
}

// startWatch begins applying change events from other tabs. Updates are
// passive: they adjust the in-memory state but never navigate.
func (c *Coordinator) startWatch() {
	watcher, ok := c.store.(Watcher)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	events, err := watcher.Watch(ctx, c.sid)
	if err != nil {
		cancel()
		log.Printf("authstate: session watch unavailable: %v", err)
		return
	}
	c.watchStop = cancel
	go func() {
		for rec := range events {
			c.applyRemote(rec)
		}
	}()
}

func (c *Coordinator) applyRemote(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusUnknown {
		// Still resolving; Initialize owns the first transition.
		return
	}
	if rec.LoggedIn {
		c.status = StatusAuthenticated
	} else {
		c.status = StatusAnonymous
		c.role = ""
	}
	c.email = rec.Email
}

// resolveNext validates the "next" query parameter of the current location.
func (c *Coordinator) resolveNext(nav Navigator) string {
	next := nav.Query().Get("next")
	if next == "" {
		return c.cfg.DefaultLanding
	}
	// Same-origin absolute path only: must start with a single slash.
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return c.cfg.DefaultLanding
	}
	pathOnly := next
	if i := strings.IndexByte(pathOnly, '?'); i >= 0 {
		pathOnly = pathOnly[:i]
	}
	if c.isPublic(pathOnly) {
		return c.cfg.DefaultLanding
	}
	return next
}

// invalidate sweeps the cache prefixes. The required prefixes run inline
// (they are cheap and must land before navigation); the best-effort ones run
// in the background and swallow everything.
func (c *Coordinator) invalidate() {
	if c.cache == nil {
		return
	}
	for _, prefix := range c.cfg.InvalidatePrefixes {
		c.cache.InvalidatePrefix(prefix)
	}
	best := append([]string(nil), c.cfg.BestEffortPrefixes...)
	go func() {
		defer func() { _ = recover() }()
		for _, prefix := range best {
			c.cache.InvalidatePrefix(prefix)
		}
	}()
}

func (c *Coordinator) isPublic(path string) bool {
	for _, p := range c.cfg.PublicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// currentLocation renders the navigator's position as path plus query, the
// same form used for the "next" parameter.
func currentLocation(nav Navigator) string {
	q := nav.Query()
	if len(q) == 0 {
		return nav.Path()
	}
	return nav.Path() + "?" + q.Encode()
}
