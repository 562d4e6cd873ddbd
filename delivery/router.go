package delivery

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP surface of the gateway over the application's
// dependencies.
func NewRouter(deps AppDependencies) http.Handler {
	r := chi.NewRouter()

	h := &HTTPEndpoint{
		app: deps,
	}

	// --- Global Middleware ---
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(deps.WithSession)

	// --- Authentication Routes ---
	r.Group(func(r chi.Router) {
		r.Get("/login", h.loginPageHandler)
		r.Post("/login", h.loginSubmitHandler)
		r.Get("/register", h.registrationPageHandler)
		r.Post("/register", h.registrationSubmitHandler)
		r.Post("/logout", h.logoutHandler)
	})

	// --- API Routes ---
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.apiLoginHandler)
		r.Post("/register", h.apiRegisterHandler)
		r.Post("/logout", h.apiLogoutHandler)

		r.Group(func(r chi.Router) {
			r.Use(deps.RequireAuth)

			r.Get("/profile", h.proxy(true, fixedPath("/api/profile")))
			r.Put("/profile", h.proxy(false, fixedPath("/api/profile")))
			r.Delete("/profile", h.proxy(false, fixedPath("/api/profile")))

			mountCollection(r, h, "attivita")
			r.Get("/attivita/cerca/{term}", h.proxy(true, paramPath("/api/attivita/cerca/{term}")))
			// Upstream answers GET filters through the search endpoint;
			// POST carries a structured filter body.
			r.Get("/attivita/filter-by/{value}", h.proxy(true, paramPath("/api/attivita/cerca/{value}")))
			r.Post("/attivita/filter-by/{value}", h.proxy(false, paramPath("/api/attivita/filter-by/{value}")))
			r.Get("/attivita/by-date/{date}", h.proxy(true, paramPath("/api/attivita/by-date/{date}")))
			r.Get("/attivita/{id}/documento", h.proxy(false, paramPath("/api/attivita/{id}/documento")))
			r.Post("/attivita/{id}/associa-mezzo", h.proxy(false, paramPath("/api/attivita/{id}/associa-mezzo")))
			r.Delete("/attivita/{id}/associa-mezzo", h.proxy(false, paramPath("/api/attivita/{id}/associa-mezzo")))
			r.Post("/attivita/{id}/associa-operatore", h.proxy(false, paramPath("/api/attivita/{id}/associa-operatore")))
			r.Delete("/attivita/{id}/associa-operatore", h.proxy(false, paramPath("/api/attivita/{id}/associa-operatore")))
			r.Delete("/attivita/{id}/dissocia-operatore", h.proxy(false, paramPath("/api/attivita/{id}/dissocia-operatore")))
			r.Get("/attivita/{id}/operatori/disponibili", h.proxy(true, paramPath("/api/attivita/{id}/operatori/disponibili")))
			r.Get("/attivita/{id}/mezzi-rimorchi/disponibili", h.proxy(true, paramPath("/api/attivita/{id}/mezzi-rimorchi/disponibili")))

			mountCollection(r, h, "assenze")
			mountCollection(r, h, "waitlists")

			mountCollection(r, h, "mezzi-rimorchi")
			r.Put("/mezzi-rimorchi/{id}", h.proxy(false, paramPath("/api/mezzi-rimorchi/{id}")))
			r.Get("/mezzi-rimorchi/cerca/{term}", h.proxy(true, paramPath("/api/mezzi-rimorchi/cerca/{term}")))
			r.Post("/mezzi-rimorchi/filter-by/{term}", h.proxy(false, paramPath("/api/mezzi-rimorchi/filter-by/{term}")))

			mountCollection(r, h, "mezzi")
			r.Put("/mezzi/{id}", h.proxy(false, paramPath("/api/mezzi/{id}")))
			r.Get("/mezzi/by-stato/{stato}", h.proxy(true, paramPath("/api/mezzi/by-stato/{stato}")))
			r.Post("/mezzo/crea", h.proxy(false, fixedPath("/api/mezzo/crea")))

			mountCollection(r, h, "rimorchi")
			r.Put("/rimorchi/{id}", h.proxy(false, paramPath("/api/rimorchi/{id}")))
			r.Post("/rimorchi/{id}/upload-image", h.proxyUpload(paramPath("/api/rimorchi/{id}/upload-image")))

			mountCollection(r, h, "documenti")
			r.Get("/documenti/cerca/{term}", h.proxy(true, paramPath("/api/documenti/cerca/{term}")))
			r.Get("/documenti/filter-by/{term}", h.proxy(true, paramPath("/api/documenti/filter-by/{term}")))
			r.Post("/documenti/upload", h.proxyUpload(fixedPath("/api/documenti/upload")))

			r.Get("/utenti", h.proxy(true, fixedPath("/api/utenti/")))
			r.Post("/utenti/crea", h.proxy(false, fixedPath("/api/utenti/crea")))
			r.Get("/utenti/cerca/{term}", h.proxy(true, paramPath("/api/utenti/cerca/{term}")))
			r.Get("/utenti/filter-by/{term}", h.proxy(true, paramPath("/api/utenti/filter-by/{term}")))
			r.Get("/utenti/{id}", h.proxy(false, paramPath("/api/utenti/{id}")))
			r.Put("/utenti/{id}", h.proxy(false, paramPath("/api/utenti/{id}")))
			r.Delete("/utenti/{id}", h.proxy(false, paramPath("/api/utenti/{id}")))
			r.Get("/utenti/{id}/assenze/disponibili", h.proxy(true, paramPath("/api/utenti/{id}/assenze/disponibili")))
		})
	})

	// --- Protected Pages ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RequireAuth)
		r.Get("/", h.homeHandler)
		r.Get("/attivita", h.pageHandler("Attività"))
		r.Get("/mezzi", h.pageHandler("Mezzi"))
		r.Get("/documenti", h.pageHandler("Documenti"))
		r.Get("/assenze", h.pageHandler("Assenze"))
		r.Get("/profile", h.pageHandler("Profilo"))
		r.Get("/utenti", h.usersPageHandler)
	})

	return r
}

// mountCollection wires the standard list/create/read/delete routes of a
// proxied resource. Upstream collection endpoints take a trailing slash.
func mountCollection(r chi.Router, h *HTTPEndpoint, name string) {
	r.Get("/"+name, h.proxy(true, fixedPath("/api/"+name+"/")))
	r.Post("/"+name, h.proxy(false, fixedPath("/api/"+name+"/")))
	r.Get("/"+name+"/{id}", h.proxy(false, paramPath("/api/"+name+"/{id}")))
	r.Delete("/"+name+"/{id}", h.proxy(false, paramPath("/api/"+name+"/{id}")))
}
