package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated user's id.  ok is false on routes
// without JWTAuth.
func UserID(c echo.Context) (id uint64, ok bool) {
	id, ok = c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// IsStaff reports whether the caller is a staff user.
func IsStaff(c echo.Context) bool {
	v, _ := c.Get(ctxIsStaff).(bool)
	return v
}

// Username returns the authenticated user's name, or "".
func Username(c echo.Context) string {
	v, _ := c.Get(ctxUsername).(string)
	return v
}

// userKey identifies the caller for rate limiting.
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
