// Package middleware holds the Echo middleware of the API server: bearer
// authentication, staff checks, the catalog response cache and the
// credential endpoint rate limiter.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/utils"
)

// Context keys set by JWTAuth.
const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
	ctxIsStaff  = "is_staff"
)

// JWTAuth validates the Bearer access token and stores the caller's id,
// username and staff flag in the context.  Missing or invalid tokens get
// 401, which clients treat as a cue to refresh.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication credentials were not provided."})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Given token not valid for any token type"})
			}
			uid, _ := claims.UserID()
			c.Set(ctxUserID, uid)
			c.Set(ctxUsername, claims.Username)
			c.Set(ctxIsStaff, claims.IsStaff)
			return next(c)
		}
	}
}
