package delivery

import (
	"html/template"
	"log"
	"net/http"
)

// The gateway renders minimal shells; the data on each page is loaded by
// the client through the /api proxy routes.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "login"}}<!DOCTYPE html>
<html>
<head><title>Login</title></head>
<body>
<h1>Login</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="POST">
  <input type="email" name="email" placeholder="Email" required>
  <input type="password" name="password" placeholder="Password" required>
  <button type="submit">Login</button>
</form>
<p><a href="/register">Register</a></p>
</body>
</html>{{end}}

{{define "register"}}<!DOCTYPE html>
<html>
<head><title>Register</title></head>
<body>
<h1>Register</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="POST" action="/register">
  <input type="email" name="email" placeholder="Email" required>
  <input type="password" name="password" placeholder="Password" required>
  <button type="submit">Register</button>
</form>
<p><a href="/login">Login</a></p>
</body>
</html>{{end}}

{{define "page"}}<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<nav>
  <a href="/">Home</a>
  <a href="/attivita">Attivit&agrave;</a>
  <a href="/mezzi">Mezzi</a>
  <a href="/documenti">Documenti</a>
  <a href="/assenze">Assenze</a>
  {{if .ShowUsers}}<a href="/utenti">Utenti</a>{{end}}
  <a href="/profile">{{.Email}}</a>
  <form method="POST" action="/logout"><button type="submit">Logout</button></form>
</nav>
<h1>{{.Title}}</h1>
<div id="content"></div>
</body>
</html>{{end}}
`))

type loginPageData struct {
	Next  string
	Error string
}

type registrationPageData struct {
	Error string
}

func renderLoginForm(w http.ResponseWriter, data loginPageData) {
	if err := pageTemplates.ExecuteTemplate(w, "login", data); err != nil {
		log.Printf("Error executing login template: %s", err)
		http.Error(w, "Failed to render the page", http.StatusInternalServerError)
	}
}

func renderRegistrationForm(w http.ResponseWriter, data registrationPageData) {
	if err := pageTemplates.ExecuteTemplate(w, "register", data); err != nil {
		log.Printf("Error executing registration template: %s", err)
		http.Error(w, "Failed to render the page", http.StatusInternalServerError)
	}
}
