package authstate

import (
	"net/http"
	"net/url"
)

// Navigator abstracts "where the user is and how to send them elsewhere".
// The gateway binds it to an HTTP exchange (a redirect response); tests bind
// it to a recorder. Replace must not be called twice for the same exchange,
// which the coordinator's in-flight flag guarantees.
type Navigator interface {
	// Path returns the current location's path, without the query string.
	Path() string
	// Query returns the current location's decoded query parameters.
	Query() url.Values
	// Replace navigates to target, replacing the current location.
	Replace(target string)
}

// HTTPNavigator adapts an in-flight HTTP exchange to the Navigator
// interface. Replace issues a 303 so that a redirected form POST is retried
// as a GET.
type HTTPNavigator struct {
	w      http.ResponseWriter
	r      *http.Request
	target string
	issued bool
}

// NewHTTPNavigator builds a navigator bound to the given exchange.
func NewHTTPNavigator(w http.ResponseWriter, r *http.Request) *HTTPNavigator {
	return &HTTPNavigator{w: w, r: r}
}

func (n *HTTPNavigator) Path() string { return n.r.URL.Path }

func (n *HTTPNavigator) Query() url.Values { return n.r.URL.Query() }

func (n *HTTPNavigator) Replace(target string) {
	n.target = target
	n.issued = true
	http.Redirect(n.w, n.r, target, http.StatusSeeOther)
}

// Issued reports whether a redirect was written to the response.
func (n *HTTPNavigator) Issued() bool { return n.issued }

// Target returns the redirect destination, or "" when none was issued.
func (n *HTTPNavigator) Target() string { return n.target }

// RecordedNavigator is a Navigator for JSON endpoints and tests: it reports
// a scripted current location and records navigation targets instead of
// performing them.
type RecordedNavigator struct {
	CurrentPath  string
	CurrentQuery url.Values
	Targets      []string
}

func (n *RecordedNavigator) Path() string { return n.CurrentPath }

func (n *RecordedNavigator) Query() url.Values {
	if n.CurrentQuery == nil {
		return url.Values{}
	}
	return n.CurrentQuery
}

func (n *RecordedNavigator) Replace(target string) {
	n.Targets = append(n.Targets, target)
	// Keep the scripted location in step with the navigation, the way a real
	// router would, so that repeated guard decisions see the new page.
	if u, err := url.Parse(target); err == nil {
		n.CurrentPath = u.Path
		n.CurrentQuery = u.Query()
	}
}

// LastTarget returns the most recent navigation target, or "".
func (n *RecordedNavigator) LastTarget() string {
	if len(n.Targets) == 0 {
		return ""
	}
	return n.Targets[len(n.Targets)-1]
}
