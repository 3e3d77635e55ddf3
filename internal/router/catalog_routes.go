package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/handler"
	"github.com/iliyamo/pharmacy-storefront/internal/middleware"
)

// RegisterCatalog registers product and category routes.  Reads are public
// and go through cache; writes need a staff token.
func RegisterCatalog(e *echo.Echo, h *handler.CatalogHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	g := e.Group("/api")
	g.GET("/products/", h.ListProducts, cache)
	g.GET("/products/:id/", h.GetProduct, cache)
	g.GET("/categories/", h.ListCategories, cache)
	g.GET("/categories/:id/", h.GetCategory, cache)

	staff := []echo.MiddlewareFunc{middleware.JWTAuth(jwtSecret), middleware.RequireStaff()}
	g.POST("/products/", h.CreateProduct, staff...)
	g.PUT("/products/:id/", h.UpdateProduct, staff...)
	g.PATCH("/products/:id/", h.UpdateProduct, staff...)
	g.DELETE("/products/:id/", h.DeleteProduct, staff...)
	g.POST("/categories/", h.CreateCategory, staff...)
	g.PUT("/categories/:id/", h.UpdateCategory, staff...)
	g.PATCH("/categories/:id/", h.UpdateCategory, staff...)
	g.DELETE("/categories/:id/", h.DeleteCategory, staff...)
}
