// Package handler implements the storefront REST API on Echo.  Handlers
// depend on the small interfaces below so they can be exercised without
// MySQL, Redis or RabbitMQ.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/middleware"
	"github.com/iliyamo/pharmacy-storefront/internal/queue"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
)

// requestTimeout bounds every store call made on behalf of one request.
const requestTimeout = 5 * time.Second

// Notifier publishes customer notifications.
type Notifier interface {
	Publish(ctx context.Context, n queue.Notification) error
}

// fieldErrors collects per-field validation messages.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) { f[field] = append(f[field], msg) }

// required records the standard message when value is empty.
func (f fieldErrors) required(field, value string) {
	if value == "" {
		f.add(field, "This field is required.")
	}
}

// reply writes the 400 validation body: {"error": ..., "fields": {...}}.
func (f fieldErrors) reply(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid input.", "fields": f})
}

// reqCtx derives the store context from the request so a client
// disconnect cancels the query.
func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// badRequest and notFoundReply write the plain {"error": msg} body.
func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func notFoundReply(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, echo.Map{"error": msg})
}

// internalError logs err and answers 500 without leaking details.
func internalError(c echo.Context, op string, err error) error {
	log.Printf("api: %s %s: %s failed: %v", c.Request().Method, c.Path(), op, err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}

// stockReply answers 400 for a *repository.StockError.
func stockReply(c echo.Context, err error) (bool, error) {
	var se *repository.StockError
	if !errors.As(err, &se) {
		return false, nil
	}
	return true, badRequest(c, fmt.Sprintf("Only %d items in stock", se.Available))
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// caller returns the authenticated user id set by JWTAuth.
func caller(c echo.Context) (uint64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "Authentication credentials were not provided.")
	}
	return id, nil
}

// notify publishes n, logging failures.  Notifications never fail the
// request that triggered them.
func notify(ctx context.Context, n Notifier, msg queue.Notification) {
	if n == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if msg.CreatedAt == "" {
		msg.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := n.Publish(pctx, msg); err != nil {
		log.Printf("api: publish %s failed: %v", msg.Kind, err)
	}
}
