package authstate

import (
	"context"
	"strings"
	"sync"
)

// Decision is the outcome of a role gate evaluation.
type Decision uint8

const (
	// DecisionHidden means render nothing: the session is still loading or
	// the role is not resolved yet. Hiding avoids a flash of unauthorized
	// content.
	DecisionHidden Decision = iota
	// DecisionAllowed means render the gated content.
	DecisionAllowed
	// DecisionDenied means render the fallback (or nothing).
	DecisionDenied
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionDenied:
		return "denied"
	default:
		return "hidden"
	}
}

// ProfileFetcher retrieves the user profile when the session itself does not
// carry a role. The payload is the normalized upstream response.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context) (any, error)
}

// RoleGate decides whether role-gated content may be shown. The role comes
// from the session when known, otherwise from a single lazy profile fetch
// whose result is cached until the session's epoch changes.
type RoleGate struct {
	coord   *Coordinator
	profile ProfileFetcher

	mu       sync.Mutex
	role     string
	fetched  bool
	fetchErr error
	epoch    uint64
}

// NewRoleGate builds a gate over the session's coordinator. profile may be
// nil when roles are always present on the session.
func NewRoleGate(coord *Coordinator, profile ProfileFetcher) *RoleGate {
	return &RoleGate{coord: coord, profile: profile}
}

// Decide evaluates the gate against the allowed role list. An empty list
// permits any authenticated user. Role comparison is case-insensitive.
func (g *RoleGate) Decide(ctx context.Context, allowedRoles []string) Decision {
	sess := g.coord.Session()
	if sess.Loading() {
		return DecisionHidden
	}
	if !sess.Authenticated() {
		return DecisionDenied
	}

	role := sess.Role
	var fetchErr error
	if role == "" {
		role, fetchErr = g.resolveRole(ctx)
	}
	if role == "" && fetchErr == nil {
		// Role still unresolved without an error: keep hiding rather than
		// flashing content we might have to take away.
		return DecisionHidden
	}

	if len(allowedRoles) == 0 {
		return DecisionAllowed
	}
	for _, allowed := range allowedRoles {
		if strings.EqualFold(allowed, role) {
			return DecisionAllowed
		}
	}
	return DecisionDenied
}

// resolveRole performs the lazy profile fetch, at most once per session
// epoch.
func (g *RoleGate) resolveRole(ctx context.Context) (string, error) {
	epoch := g.coord.Epoch()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.epoch != epoch {
		g.role = ""
		g.fetched = false
		g.fetchErr = nil
		g.epoch = epoch
	}
	if g.fetched {
		return g.role, g.fetchErr
	}
	g.fetched = true

	if g.profile == nil {
		return "", nil
	}
	payload, err := g.profile.FetchProfile(ctx)
	if err != nil {
		g.fetchErr = err
		return "", err
	}
	g.role = RoleFromProfile(payload)
	if g.role != "" {
		g.coord.SetRole(g.role)
	}
	return g.role, nil
}

// RoleFromProfile digs the role out of a profile payload. Upstream is not
// consistent about the key, so several spellings are accepted.
func RoleFromProfile(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"ruolo", "role"} {
		if role, ok := m[key].(string); ok && role != "" {
			return role
		}
	}
	if user, ok := m["user"].(map[string]any); ok {
		for _, key := range []string{"ruolo", "role"} {
			if role, ok := user[key].(string); ok && role != "" {
				return role
			}
		}
	}
	return ""
}
