package delivery

import (
	"log"
	"net/http"

	"fleetgate/authstate"
)

// staffRoles may manage user accounts.
var staffRoles = []string{"STAFF", "ADMIN"}

type pageData struct {
	Title     string
	Email     string
	ShowUsers bool
}

// homeHandler renders the landing page for an authenticated session.
func (h *HTTPEndpoint) homeHandler(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "Home")
}

// pageHandler renders one of the resource page shells.
func (h *HTTPEndpoint) pageHandler(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.renderPage(w, r, title)
	}
}

// usersPageHandler renders the user management page, which only staff may
// see. A session whose role cannot be resolved gets nothing rather than a
// flash of content that would be taken away.
func (h *HTTPEndpoint) usersPageHandler(w http.ResponseWriter, r *http.Request) {
	gate, ok := h.app.RoleGate(r.Context())
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	switch gate.Decide(r.Context(), staffRoles) {
	case authstate.DecisionAllowed:
		h.renderPage(w, r, "Utenti")
	case authstate.DecisionDenied:
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *HTTPEndpoint) renderPage(w http.ResponseWriter, r *http.Request, title string) {
	data := pageData{Title: title}
	if coord, ok := h.app.Coordinator(r.Context()); ok {
		data.Email = coord.Session().Email
	}
	if gate, ok := h.app.RoleGate(r.Context()); ok {
		data.ShowUsers = gate.Decide(r.Context(), staffRoles) == authstate.DecisionAllowed
	}

	if err := pageTemplates.ExecuteTemplate(w, "page", data); err != nil {
		log.Printf("Failed to execute page template: %s", err)
		http.Error(w, "Failed to render the page", http.StatusInternalServerError)
	}
}
