package delivery

import (
	"net/http"

	"fleetgate/authstate"
	"fleetgate/delivery/model"
)

// logoutHandler terminates the session for a browser form POST. The
// coordinator clears the local state first and issues the 303 to the login
// page; the upstream notification runs in the background.
func (h *HTTPEndpoint) logoutHandler(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.app.Coordinator(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	coord.Logout(r.Context(), authstate.NewHTTPNavigator(w, r))
}

// apiLogoutHandler is the JSON variant. The response confirms the local
// termination without waiting for the upstream.
func (h *HTTPEndpoint) apiLogoutHandler(w http.ResponseWriter, r *http.Request) {
	coord, ok := h.app.Coordinator(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, model.LogoutResponse{Redirect: "/login"})
		return
	}
	nav := pageNavigator(r)
	coord.Logout(r.Context(), nav)
	writeJSON(w, http.StatusOK, model.LogoutResponse{
		LoggedIn: false,
		Redirect: nav.LastTarget(),
	})
}
