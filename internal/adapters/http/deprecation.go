package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DeprecatedRoute marks an endpoint as deprecated with sunset date.
type DeprecatedRoute struct {
	Path        string    // route pattern, ":param" segments allowed
	SunsetDate  time.Time // removal date
	Alternative string    // successor route, optional
}

// DeprecationMiddleware adds Deprecation and Sunset (RFC 8594), a
// successor-version Link (RFC 8288) and a Warning header to responses of
// deprecated routes.
func DeprecationMiddleware(deprecated []DeprecatedRoute) fiber.Handler {
	return func(c *fiber.Ctx) error {
		d, ok := findDeprecated(deprecated, c.Path())
		if !ok {
			return c.Next()
		}

		c.Set("Deprecation", "true")
		c.Set("Sunset", d.SunsetDate.UTC().Format(time.RFC1123))
		if d.Alternative != "" {
			c.Set("Link", fmt.Sprintf(`<%s>; rel="successor-version"`, d.Alternative))
		}
		days := int(time.Until(d.SunsetDate).Hours() / 24)
		c.Set("Warning", fmt.Sprintf(`299 - "Deprecated API, will sunset in %d days"`, max(days, 0)))

		return c.Next()
	}
}

func findDeprecated(routes []DeprecatedRoute, path string) (DeprecatedRoute, bool) {
	for _, d := range routes {
		if matchPattern(path, d.Path) {
			return d, true
		}
	}
	return DeprecatedRoute{}, false
}

// matchPattern matches a route pattern with ":param" segments against a path,
// e.g. "/v1/places/:id" matches "/v1/places/yasawi-mausoleum".
func matchPattern(path, pattern string) bool {
	if path == pattern {
		return true
	}

	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	if len(pathParts) != len(patternParts) {
		return false
	}
	for i, part := range patternParts {
		switch {
		case strings.HasPrefix(part, ":"):
			if pathParts[i] == "" {
				return false
			}
		case part != pathParts[i]:
			return false
		}
	}
	return true
}
