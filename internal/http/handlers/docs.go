package handlers

import (
	"html/template"
	"net/http"
)

var docsPage = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>{{.Title}}</title>
    <link href="https://unpkg.com/@stoplight/elements@8/styles.min.css" rel="stylesheet" />
    <script src="https://unpkg.com/@stoplight/elements@8/web-components.min.js" crossorigin="anonymous"></script>
    <style>html[data-theme="dark"] { color-scheme: dark; } html[data-theme="dark"] body { background-color: #1a1a2e; }</style>
    <script>
      {{if .Theme}}document.documentElement.setAttribute('data-theme', {{.Theme}});
      {{else}}const dark = window.matchMedia('(prefers-color-scheme: dark)');
      document.documentElement.setAttribute('data-theme', dark.matches ? 'dark' : 'light');
      dark.addEventListener('change', e => document.documentElement.setAttribute('data-theme', e.matches ? 'dark' : 'light'));{{end}}
    </script>
  </head>
  <body style="height: 100vh; margin: 0;">
    <elements-api apiDescriptionUrl="{{.SpecPath}}" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" />
  </body>
</html>
`))

// DocsHandler serves the OpenAPI reference for the control API.
type DocsHandler struct {
	Title    string
	SpecPath string
	// Theme forces "dark" or "light". Empty follows the system preference.
	Theme string
}

// NewDocsHandler creates a documentation handler for the OpenAPI document at specPath.
func NewDocsHandler(title, specPath string) *DocsHandler {
	return &DocsHandler{Title: title, SpecPath: specPath}
}

// ServeHTTP renders the documentation page.
func (h *DocsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := docsPage.Execute(w, h); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
