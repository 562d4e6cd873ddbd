package delivery

import (
	"encoding/json"
	"log"
	"net/http"

	"fleetgate/delivery/model"
)

// upstreamRegisterPath is where the management API creates accounts.
const upstreamRegisterPath = "/api/utenti/register"

// registrationPageHandler handles the GET request for the registration page.
func (h *HTTPEndpoint) registrationPageHandler(w http.ResponseWriter, r *http.Request) {
	renderRegistrationForm(w, registrationPageData{})
}

// registrationSubmitHandler handles the POST request from the registration
// form. When the upstream issues tokens with the new account the session
// logs straight in; otherwise the user is sent to the login page.
func (h *HTTPEndpoint) registrationSubmitHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	creds := model.Credentials{
		Email:    r.Form.Get("email"),
		Password: r.Form.Get("password"),
	}
	if creds.Email == "" || creds.Password == "" {
		w.WriteHeader(http.StatusBadRequest)
		renderRegistrationForm(w, registrationPageData{Error: "Email and password are required"})
		return
	}

	_, payload, err := h.app.Upstream().Exchange(r.Context(), http.MethodPost, upstreamRegisterPath, "", creds)
	if err != nil {
		log.Printf("Registration failed for %s: %s", creds.Email, err)
		w.WriteHeader(http.StatusBadRequest)
		renderRegistrationForm(w, registrationPageData{Error: "Registration failed"})
		return
	}

	if access, _ := tokensFromPayload(payload); access != "" {
		h.completeLogin(w, r, creds.Email, payload, true)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// apiRegisterHandler is the JSON variant of registration.
func (h *HTTPEndpoint) apiRegisterHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576) // 1MB limit
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	_, payload, err := h.app.Upstream().Exchange(r.Context(), http.MethodPost, upstreamRegisterPath, "", creds)
	if err != nil {
		log.Printf("Registration failed for %s: %s", creds.Email, err)
		h.forwardFailure(w, r, err)
		return
	}

	resp := model.RegisterResponse{Registered: true, Redirect: "/login"}
	if access, refresh := tokensFromPayload(payload); access != "" {
		if err := h.app.StoreTokens(r.Context(), access, refresh); err != nil {
			log.Printf("Failed to persist session tokens: %s", err)
		}
		if coord, ok := h.app.Coordinator(r.Context()); ok {
			nav := pageNavigator(r)
			coord.Login(r.Context(), nav, creds.Email)
			resp.LoggedIn = true
			resp.Redirect = nav.LastTarget()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
