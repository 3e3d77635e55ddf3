package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/pharmacy-storefront/internal/config"
	"github.com/iliyamo/pharmacy-storefront/internal/handler"
)

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func newTestServer() *echo.Echo {
	e := echo.New()
	cfg := config.Config{JWTSecret: "router-secret"}
	RegisterRoutes(e)
	RegisterAuth(e, handler.NewAuthHandler(cfg, nil, nil, nil, nil), cfg.JWTSecret, passthrough)
	RegisterCatalog(e, handler.NewCatalogHandler(nil, nil), cfg.JWTSecret, passthrough)
	RegisterCustomer(e, handler.NewCartHandler(nil), handler.NewAddressHandler(nil), handler.NewOrderHandler(nil, nil), cfg.JWTSecret)
	return e
}

func TestRoutes(t *testing.T) {
	e := newTestServer()
	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/me/", http.StatusUnauthorized},
		{http.MethodGet, "/api/cart/", http.StatusUnauthorized},
		{http.MethodPost, "/api/cart/add_item/", http.StatusUnauthorized},
		{http.MethodGet, "/api/addresses/", http.StatusUnauthorized},
		{http.MethodPost, "/api/orders/", http.StatusUnauthorized},
		{http.MethodPatch, "/api/orders/1/update_status/", http.StatusUnauthorized},
		{http.MethodPost, "/api/products/", http.StatusUnauthorized},
		{http.MethodDelete, "/api/categories/1/", http.StatusUnauthorized},
		{http.MethodGet, "/api/unknown/", http.StatusNotFound},
		{http.MethodGet, "/api/products/abc/", http.StatusNotFound},
		{http.MethodPost, "/api/password-reset/", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
