package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// infraPaths bypass tenant resolution: they never touch tenant data.
var infraPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// InfraSkipper reports whether the matched route is an infrastructure
// endpoint. Pass it to middleware that should not run for health checks or
// metrics scrapes.
func InfraSkipper(c echo.Context) bool {
	return IsInfraPath(c.Path())
}

func IsInfraPath(path string) bool {
	return infraPaths[path]
}

// RequireAuthenticated rejects anonymous callers.
func RequireAuthenticated(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if UserIDFromContext(c.Request().Context()) == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication credentials were not provided")
		}
		return next(c)
	}
}
