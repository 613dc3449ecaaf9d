package api

import (
	echo "github.com/labstack/echo/v5"
)

// securityHeaders sets standard security response headers, matching the
// teacher's pkg/api/middleware.go.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// authContext resolves the caller's principal id and attaches it to the
// request context, so every handler downstream can hand a plain
// context.Context to the guard without echo ever leaking into pkg/guard.
func (s *Server) authContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			principal := extractPrincipal(c, s.botSecret)
			ctx := withPrincipalID(c.Request().Context(), principal)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
