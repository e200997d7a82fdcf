package server

import (
	"html/template"
	"net/http"
)

// popupPage closes the sign-in popup and notifies the opener. html/template
// escapes Origin and Message for the JavaScript context.
var popupPage = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<script>
  if (window.opener) {
    window.opener.postMessage({ type: {{.Type}}{{if .Message}}, error: {{.Message}}{{end}} }, {{.Origin}});
  }
  window.close();
</script>
<noscript>{{.Title}}. You can close this window.</noscript>
</body>
</html>
`))

type popupData struct {
	Title   string
	Type    string
	Message string
	Origin  string
}

const (
	popupSuccess = "google-auth-success"
	popupError   = "google-auth-error"
)

func writePopup(w http.ResponseWriter, status int, data popupData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = popupPage.Execute(w, data)
}
