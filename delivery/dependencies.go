package delivery

import (
	"context"
	"net/http"

	"fleetgate/apiclient"
	"fleetgate/authstate"
)

// AppDependencies defines the contract that the delivery layer (HTTP
// handlers) expects from the core application layer.
type AppDependencies interface {
	// Upstream provides the normalized client for the management API.
	Upstream() *apiclient.Client

	// Cache provides the proxied-response cache swept on login/logout.
	Cache() *authstate.QueryCache

	// WithSession attaches the browser session bundle to the request.
	WithSession(next http.Handler) http.Handler

	// RequireAuth provides the middleware to protect route groups.
	RequireAuth(next http.Handler) http.Handler

	Coordinator(ctx context.Context) (*authstate.Coordinator, bool)
	Guard(ctx context.Context) (*authstate.Guard, bool)
	RoleGate(ctx context.Context) (*authstate.RoleGate, bool)

	// SessionToken returns the session's upstream bearer token, or "".
	SessionToken(ctx context.Context) string

	// StoreTokens persists the token pair issued by the upstream on
	// login/register.
	StoreTokens(ctx context.Context, access, refresh string) error
}
