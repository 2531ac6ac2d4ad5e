package middleware

import (
	"github.com/labstack/echo/v4"
)

// VersionHeader adds version information to response headers
func VersionHeader(version, build string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-API-Version", version)
			if build != "" {
				c.Response().Header().Set("X-Service-Build", build)
			}
			return next(c)
		}
	}
}

// VersionRoute creates a version-specific route group
func VersionRoute(e *echo.Echo, version, build string, m ...echo.MiddlewareFunc) *echo.Group {
	group := e.Group("/"+version, VersionHeader(version, build))
	group.Use(m...)
	return group
}
