// Package authstate owns the authentication lifecycle of a single browser
// session: the in-memory session state machine, the durable flag store that
// survives reloads, the per-view route guard, and the role-based render gate.
// Everything that mutates authentication state goes through the Coordinator;
// views and handlers only ever read snapshots.
package authstate

// Status is the three-state confirmation model for a session. A plain
// boolean cannot distinguish "we have not heard from the server yet" from
// "the server said no", which is exactly the flash-of-wrong-state bug the
// extra state avoids.
type Status uint8

const (
	// StatusUnknown means the persisted flags were read but the upstream
	// identity check has not resolved yet.
	StatusUnknown Status = iota
	// StatusAuthenticated means the session is confirmed logged in.
	StatusAuthenticated
	// StatusAnonymous means the session is confirmed logged out.
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Session is an immutable snapshot of the coordinator's in-memory state.
type Session struct {
	Status Status
	Email  string
	Role   string
}

// Loading reports whether the initial identity confirmation is still pending.
func (s Session) Loading() bool { return s.Status == StatusUnknown }

// Authenticated reports whether the session is confirmed logged in.
func (s Session) Authenticated() bool { return s.Status == StatusAuthenticated }
