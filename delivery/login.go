package delivery

import (
	"encoding/json"
	"log"
	"net/http"

	"fleetgate/authstate"
	"fleetgate/delivery/model"
)

// upstreamLoginPath is where the management API authenticates credentials.
const upstreamLoginPath = "/api/utenti/login"

// loginPageHandler handles the GET request for the login page.
func (h *HTTPEndpoint) loginPageHandler(w http.ResponseWriter, r *http.Request) {
	if coord, ok := h.app.Coordinator(r.Context()); ok && coord.Session().Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	renderLoginForm(w, loginPageData{Next: r.URL.Query().Get("next")})
}

// loginSubmitHandler handles the POST request from the login form. On
// success the coordinator records the session and navigates (303) to the
// post-login destination; on bad credentials the form is re-rendered with
// the upstream's message.
func (h *HTTPEndpoint) loginSubmitHandler(w http.ResponseWriter, r *http.Request) {
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
		renderLoginForm(w, loginPageData{
			Next:  r.URL.Query().Get("next"),
			Error: "Email and password are required",
		})
		return
	}

	_, payload, err := h.app.Upstream().Exchange(r.Context(), http.MethodPost, upstreamLoginPath, "", creds)
	if err != nil {
		log.Printf("Login failed for %s: %s", creds.Email, err)
		w.WriteHeader(http.StatusUnauthorized)
		renderLoginForm(w, loginPageData{
			Next:  r.URL.Query().Get("next"),
			Error: "Invalid email or password",
		})
		return
	}

	h.completeLogin(w, r, creds.Email, payload, true)
}

// apiLoginHandler is the JSON variant used by script clients. The redirect
// is reported in the body instead of being issued as an HTTP redirect.
func (h *HTTPEndpoint) apiLoginHandler(w http.ResponseWriter, r *http.Request) {
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

	_, payload, err := h.app.Upstream().Exchange(r.Context(), http.MethodPost, upstreamLoginPath, "", creds)
	if err != nil {
		log.Printf("Login failed for %s: %s", creds.Email, err)
		h.forwardFailure(w, r, err)
		return
	}

	h.completeLogin(w, r, creds.Email, payload, false)
}

// completeLogin stores the issued tokens and runs the coordinator's login
// transition. For form submissions the navigation is an HTTP 303; for JSON
// clients the destination is recorded and reported in the body.
func (h *HTTPEndpoint) completeLogin(w http.ResponseWriter, r *http.Request, email string, payload any, browser bool) {
	access, refresh := tokensFromPayload(payload)
	if err := h.app.StoreTokens(r.Context(), access, refresh); err != nil {
		log.Printf("Failed to persist session tokens: %s", err)
	}

	coord, ok := h.app.Coordinator(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "no session")
		return
	}

	if browser {
		coord.Login(r.Context(), authstate.NewHTTPNavigator(w, r), email)
		return
	}

	nav := pageNavigator(r)
	coord.Login(r.Context(), nav, email)
	writeJSON(w, http.StatusOK, model.LoginResponse{
		LoggedIn: true,
		Email:    email,
		Redirect: nav.LastTarget(),
	})
}

// tokensFromPayload digs the issued token pair out of the login/register
// payload. Upstream spells the access token two ways.
func tokensFromPayload(payload any) (access, refresh string) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", ""
	}
	for _, key := range []string{"access_token", "token"} {
		if v, ok := m[key].(string); ok && v != "" {
			access = v
			break
		}
	}
	refresh, _ = m["refresh_token"].(string)
	return access, refresh
}
