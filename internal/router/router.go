// Package router wires handlers and middleware onto Echo routes.  Every
// API route lives under /api and keeps its trailing slash.  Middleware is
// attached per route so unknown paths still answer 404.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/handler"
	"github.com/iliyamo/pharmacy-storefront/internal/middleware"
)

// RegisterRoutes registers the unauthenticated health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers token, registration, profile and password-reset
// routes.  limit guards every credential endpoint.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/api")
	g.POST("/token/", a.Token, limit)
	g.POST("/token/refresh/", a.Refresh, limit)
	g.POST("/token/revoke/", a.Revoke, limit)
	g.POST("/register/", a.Register, limit)
	g.POST("/password-reset/", a.RequestPasswordReset, limit)
	g.POST("/password-reset/confirm/", a.ConfirmPasswordReset, limit)

	g.GET("/me/", a.Me, middleware.JWTAuth(jwtSecret))
}
