package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers "ok" for load balancer checks.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
