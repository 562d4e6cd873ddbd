package delivery

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"fleetgate/authstate"
)

// HTTPEndpoint holds a reference to the core application dependencies.
type HTTPEndpoint struct {
	app AppDependencies
}

// writeJSON renders v with the given status. A nil payload writes only the
// status line, which is what 204 forwarding needs.
func writeJSON(w http.ResponseWriter, status int, v any) {
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %s", err)
	}
}

// writeError renders the flat {"error": ...} shape used by proxy routes.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// pageNavigator builds the navigator for guard decisions made while serving
// an API request. The browser's position is the page that issued the fetch,
// so the Referer is the closest thing to "where the user is"; without one
// the request path is used, which the coordinator correctly refuses to
// navigate away from.
func pageNavigator(r *http.Request) *authstate.RecordedNavigator {
	if ref := r.Header.Get("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Path != "" {
			return &authstate.RecordedNavigator{CurrentPath: u.Path, CurrentQuery: u.Query()}
		}
	}
	return &authstate.RecordedNavigator{CurrentPath: r.URL.Path, CurrentQuery: r.URL.Query()}
}
