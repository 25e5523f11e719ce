package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health checks, metrics and the public
// display surface.
var publicPaths = map[string]bool{
	"/health":        true,
	"/health/db":     true,
	"/health/redis":  true,
	"/health/engine": true,
	"/metrics":       true,
	"/display/board": true,
	"/display/ws":    true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
