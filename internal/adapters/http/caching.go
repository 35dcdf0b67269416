package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// cacheRule maps a path prefix to the Cache-Control value it gets by default.
type cacheRule struct {
	prefix string
	value  string
}

// cacheRules are matched in order; the first matching prefix wins.
var cacheRules = []cacheRule{
	{"/v1/health", "public, max-age=10"},
	{"/v1/ready", "public, max-age=10"},
	{"/metrics", "no-cache"},
	{"/graphql", "private, max-age=0"},
	{"/v1/flyovers", "no-store"}, // playback state changes every frame
	{"/v1/gazetteer/search", "public, max-age=300"},
	{"/v1/places/search", "public, max-age=300"},
	{"/v1/gazetteer/places", "public, max-age=3600"}, // only changes on deploy
	{"/v1/places", "public, max-age=3600"},
	{"/v1/", "public, max-age=300"},
}

// CachingMiddleware sets a default Cache-Control on GET responses when the
// handler has not chosen one.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet || c.GetRespHeader(fiber.HeaderCacheControl) != "" {
			return err
		}

		if value := cacheControlFor(c.Path()); value != "" {
			c.Set(fiber.HeaderCacheControl, value)
		}
		return err
	}
}

func cacheControlFor(path string) string {
	for _, r := range cacheRules {
		if strings.HasPrefix(path, r.prefix) {
			return r.value
		}
	}
	return ""
}
