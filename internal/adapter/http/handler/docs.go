package handler

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var openAPISpec []byte

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>BizSuite Orchestrator API</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: {{.SpecURL}}, dom_id: '#swagger-ui', layout: 'BaseLayout',
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset]});
  </script>
</body>
</html>`))

// registerDocs mounts the Swagger UI at base and the embedded OpenAPI
// document at base+"/spec".
func registerDocs(r gin.IRouter, base string) {
	specURL := base + "/spec"

	var page bytes.Buffer
	if err := docsPage.Execute(&page, struct{ SpecURL string }{specURL}); err != nil {
		panic(err)
	}
	html := page.Bytes()

	r.GET(base, func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", html)
	})
	r.GET(specURL, func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", openAPISpec)
	})
}
