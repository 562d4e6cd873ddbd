package authstate

import (
	"context"
	"sync"

	"fleetgate/apiclient"
)

// Guard is the per-view companion of the coordinator. It makes sure the
// redirect-to-login decision fires exactly once per unauthenticated episode:
// once for the initial check after loading resolves, and once for the first
// auth-tagged fetch error. Episodes end when the session authenticates again
// and restart on logout or when the user lands on a new protected path while
// still unauthenticated.
type Guard struct {
	coord *Coordinator

	mu         sync.Mutex
	hasChecked bool
	handled401 bool
	lastAuthed bool
	lastPath   string
	lastEpoch  uint64
}

// NewGuard builds a guard over the session's coordinator.
func NewGuard(coord *Coordinator) *Guard {
	return &Guard{coord: coord}
}

// Loading reports whether the session is still resolving.
func (g *Guard) Loading() bool { return g.coord.Session().Loading() }

// Authenticated reports the current confirmed state.
func (g *Guard) Authenticated() bool { return g.coord.Session().Authenticated() }

// RedirectInFlight reports whether a forced redirect is currently running.
func (g *Guard) RedirectInFlight() bool { return g.coord.IsRedirectRecent() }

// CheckInitial runs the once-per-episode authentication check for the
// current location. Public routes are never checked. Nothing happens while
// the session is still loading. Returns true iff a redirect was issued.
func (g *Guard) CheckInitial(ctx context.Context, nav Navigator) bool {
	sess := g.coord.Session()
	g.syncEpisode(sess, nav.Path())

	if g.coord.isPublic(nav.Path()) {
		return false
	}
	if sess.Loading() {
		return false
	}
	if g.coord.IsRedirectRecent() {
		return false
	}

	g.mu.Lock()
	if g.hasChecked {
		g.mu.Unlock()
		return false
	}
	g.hasChecked = true
	g.mu.Unlock()

	if !sess.Authenticated() {
		return g.coord.ForceLoginRedirect(ctx, nav, "initial authentication check")
	}
	return false
}

// ObserveErrors scans fetch errors for an authentication failure (HTTP 401
// or the explicit auth tag) and redirects at most once per episode. Returns
// true iff a redirect was issued.
func (g *Guard) ObserveErrors(ctx context.Context, nav Navigator, errs []error) bool {
	sess := g.coord.Session()
	g.syncEpisode(sess, nav.Path())

	if sess.Loading() {
		return false
	}
	if g.coord.IsRedirectRecent() {
		return false
	}

	found := false
	for _, err := range errs {
		if err == nil {
			continue
		}
		if apiclient.IsAuthError(err) || apiclient.StatusOf(err) == 401 {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	g.mu.Lock()
	if g.handled401 {
		g.mu.Unlock()
		return false
	}
	g.handled401 = true
	g.mu.Unlock()

	return g.coord.ForceLoginRedirect(ctx, nav, "401 API error")
}

// Trigger requests a redirect manually. It applies the same public-page and
// in-flight guards as ForceLoginRedirect.
func (g *Guard) Trigger(ctx context.Context, nav Navigator, reason string) bool {
	if g.coord.IsRedirectRecent() {
		return false
	}
	return g.coord.ForceLoginRedirect(ctx, nav, reason)
}

// Reset clears the per-episode flags. Mostly useful in tests.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.hasChecked = false
	g.handled401 = false
	g.mu.Unlock()
}

// syncEpisode keeps the per-episode flags in step with the session:
//   - authenticating again ends the 401 episode;
//   - transitioning to unauthenticated (logout, forced redirect) re-arms the
//     initial check;
//   - so does moving to a different protected path while unauthenticated;
//   - an epoch bump (login/logout remount) re-arms everything.
func (g *Guard) syncEpisode(sess Session, path string) {
	epoch := g.coord.Epoch()
	authed := sess.Authenticated()

	g.mu.Lock()
	defer g.mu.Unlock()

	if epoch != g.lastEpoch {
		g.hasChecked = false
		g.handled401 = false
		g.lastEpoch = epoch
	}
	if authed {
		g.handled401 = false
	} else if !sess.Loading() {
		if g.lastAuthed {
			g.hasChecked = false
		}
		if path != g.lastPath && !g.coord.isPublic(path) {
			g.hasChecked = false
		}
	}
	g.lastAuthed = authed
	g.lastPath = path
}
