package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireStaff aborts with 403 unless JWTAuth marked the caller as staff.
func RequireStaff() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !IsStaff(c) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "You do not have permission to perform this action."})
			}
			return next(c)
		}
	}
}
