package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"fleetgate/authstate"
)

// A private type for the context key to prevent collisions.
type contextKey string

// sessionContextKey is the key used to store the session bundle in the
// request context.
const sessionContextKey contextKey = "session"

// SessionCookieName identifies the browser session. The cookie carries only
// a random ID; everything else lives in the session store.
const SessionCookieName = "fleetgate_session"

// ErrorResponse is the JSON envelope for middleware-level failures.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ErrorType string `json:"type"`
	Redirect  string `json:"redirect,omitempty"`
}

// WithSession attaches the browser session's coordinator bundle to every
// request, minting the session cookie on first contact and running the
// once-only initialization so downstream guards never see an unresolved
// loading state mid-request.
func (a *App) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := a.sessionID(w, r)
		bs := a.session(sid)
		bs.coord.Initialize(r.Context())

		ctx := context.WithValue(r.Context(), sessionContextKey, bs)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth protects a route group. Page routes get the coordinator's
// forced redirect to the login page; API routes (where redirects are
// forbidden by design) get the structured 401 envelope instead, carrying
// the login target so the client can navigate itself.
func (a *App) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bs, ok := sessionFromContext(r.Context())
		if !ok {
			writeAuthError(w, "")
			return
		}

		nav := authstate.NewHTTPNavigator(w, r)
		if bs.guard.CheckInitial(r.Context(), nav) {
			// The redirect response has already been written.
			return
		}
		if !bs.guard.Authenticated() {
			if !strings.HasPrefix(r.URL.Path, "/api") {
				// The guard spends its one forced redirect per episode; a
				// browser navigating back to the same page still needs to
				// land on login rather than receive a JSON envelope.
				http.Redirect(w, r, loginTargetFor(r), http.StatusSeeOther)
				return
			}
			writeAuthError(w, "/login")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionID returns the request's session ID, setting the cookie when the
// browser does not have one yet. Only IDs this gateway minted are accepted:
// the value becomes a storage key (a file name, a Redis key), so a forged
// cookie must never reach the stores. Anything that is not a UUID is
// replaced with a fresh one.
func (a *App) sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			return id.String()
		}
	}
	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sid
}

func sessionFromContext(ctx context.Context) (*browserSession, bool) {
	bs, ok := ctx.Value(sessionContextKey).(*browserSession)
	return bs, ok
}

// Coordinator retrieves the request's session coordinator.
func (a *App) Coordinator(ctx context.Context) (*authstate.Coordinator, bool) {
	bs, ok := sessionFromContext(ctx)
	if !ok {
		return nil, false
	}
	return bs.coord, true
}

// Guard retrieves the request's route guard.
func (a *App) Guard(ctx context.Context) (*authstate.Guard, bool) {
	bs, ok := sessionFromContext(ctx)
	if !ok {
		return nil, false
	}
	return bs.guard, true
}

// RoleGate retrieves the request's role gate.
func (a *App) RoleGate(ctx context.Context) (*authstate.RoleGate, bool) {
	bs, ok := sessionFromContext(ctx)
	if !ok {
		return nil, false
	}
	return bs.roles, true
}

// SessionToken returns the session's upstream access token, or "".
func (a *App) SessionToken(ctx context.Context) string {
	bs, ok := sessionFromContext(ctx)
	if !ok {
		return ""
	}
	rec, err := a.store.Load(ctx, bs.coord.SessionID())
	if err != nil {
		return ""
	}
	return rec.AccessToken
}

// StoreTokens persists the upstream token pair for the request's session and
// records the role carried in the access token's claims.
func (a *App) StoreTokens(ctx context.Context, access, refresh string) error {
	bs, ok := sessionFromContext(ctx)
	if !ok {
		return nil
	}
	if err := a.store.SetTokens(ctx, bs.coord.SessionID(), access, refresh); err != nil {
		return err
	}
	if role := a.roleFromToken(ctx, access); role != "" {
		bs.coord.SetRole(role)
	}
	return nil
}

// roleFromToken pulls the role claim out of an access token, verifying the
// signature when a verifier is configured.
func (a *App) roleFromToken(ctx context.Context, token string) string {
	if token == "" {
		return ""
	}
	if a.verifier != nil {
		claims, err := a.verifier.Verify(ctx, token)
		if err != nil {
			return ""
		}
		return roleFromClaims(claims)
	}
	return roleFromClaims(unverifiedClaims(token))
}

// loginTargetFor builds the login destination for a page request, carrying
// the current location in the next parameter the same way forced redirects
// do.
func loginTargetFor(r *http.Request) string {
	if r.URL.Path == "/" {
		return "/login"
	}
	loc := r.URL.Path
	if r.URL.RawQuery != "" {
		loc += "?" + r.URL.RawQuery
	}
	return "/login?next=" + url.QueryEscape(loc)
}

func writeAuthError(w http.ResponseWriter, redirect string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:      "UNAUTHORIZED",
			Message:   "Session expired",
			ErrorType: "AUTH_ERROR",
			Redirect:  redirect,
		},
	})
}
