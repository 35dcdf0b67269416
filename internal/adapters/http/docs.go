package http

import (
	"context"
	"log/slog"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
)

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Flyover API | Swagger UI</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
  <style>body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/docs/openapi.json',
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: 'BaseLayout',
    });
  </script>
</body>
</html>`

// loadAPIDoc reads and validates the OpenAPI document at path.
func loadAPIDoc(path string) ([]byte, *openapi3.T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	doc, err := openapi3.NewLoader().LoadFromData(data)
	if err != nil {
		return nil, nil, err
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, nil, err
	}
	return data, doc, nil
}

// SetupDocs registers Swagger UI at /docs and the OpenAPI document at
// /docs/openapi.yaml and /docs/openapi.json. The document is loaded once;
// when it is missing or invalid the document routes answer 404.
func SetupDocs(app *fiber.App, path string) {
	raw, doc, err := loadAPIDoc(path)
	if err != nil {
		slog.Warn("openapi document unavailable", "path", path, "error", err)
	}

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
		return c.SendString(swaggerUIHTML)
	})

	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		if doc == nil {
			return errNotFound(c, "openapi document not found")
		}
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(raw)
	})

	app.Get("/docs/openapi.json", func(c *fiber.Ctx) error {
		if doc == nil {
			return errNotFound(c, "openapi document not found")
		}
		return c.JSON(doc)
	})
}
