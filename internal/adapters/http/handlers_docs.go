package http

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed docs/license-activation.openapi.yaml
var openAPIDocument []byte

const docsDocumentPath = "/docs/openapi.yaml"

var docsPage = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="docs"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "{{.DocumentURL}}", dom_id: "#docs" });
  </script>
</body>
</html>`))

// docsRoutes serves the embedded OpenAPI document and a Swagger UI page
// pointing at it.
func (h *Handler) docsRoutes(r chi.Router) {
	r.Get("/", h.docsIndex)
	r.Get("/openapi.yaml", h.docsDocument)
}

func (h *Handler) docsIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := docsPage.Execute(w, struct {
		Title       string
		DocumentURL string
	}{
		Title:       "License activation API",
		DocumentURL: docsDocumentPath,
	})
	if err != nil {
		logRejection(r.Context(), "docs_index", http.StatusInternalServerError, "INTERNAL_ERROR", err)
	}
}

func (h *Handler) docsDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(openAPIDocument)
}
