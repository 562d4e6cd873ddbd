package model

// Credentials is the JSON body accepted by the login and register endpoints.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse tells the client where the session landed after a
// successful login.
type LoginResponse struct {
	LoggedIn bool   `json:"loggedIn"`
	Email    string `json:"email"`
	Redirect string `json:"redirect"`
}

// RegisterResponse mirrors LoginResponse for the registration endpoint.
// LoggedIn is true when the upstream issued tokens along with the account.
type RegisterResponse struct {
	Registered bool   `json:"registered"`
	LoggedIn   bool   `json:"loggedIn"`
	Redirect   string `json:"redirect"`
}

// LogoutResponse confirms local termination of the session.
type LogoutResponse struct {
	LoggedIn bool   `json:"loggedIn"`
	Redirect string `json:"redirect"`
}
