package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/handler"
	"github.com/iliyamo/pharmacy-storefront/internal/middleware"
)

// RegisterCustomer registers the cart, address book and order routes.  All
// of them require a valid access token; changing an order's status also
// requires staff.
func RegisterCustomer(e *echo.Echo, cart *handler.CartHandler, addr *handler.AddressHandler, orders *handler.OrderHandler, jwtSecret string) {
	g := e.Group("/api")
	auth := middleware.JWTAuth(jwtSecret)

	g.GET("/cart/", cart.Get, auth)
	g.POST("/cart/add_item/", cart.AddItem, auth)
	g.PATCH("/cart/update_item/", cart.UpdateItem, auth)
	g.DELETE("/cart/remove_item/", cart.RemoveItem, auth)
	g.DELETE("/cart/clear/", cart.Clear, auth)

	g.GET("/addresses/", addr.List, auth)
	g.POST("/addresses/", addr.Create, auth)
	g.GET("/addresses/:id/", addr.Get, auth)
	g.PUT("/addresses/:id/", addr.Update, auth)
	g.PATCH("/addresses/:id/", addr.Update, auth)
	g.DELETE("/addresses/:id/", addr.Delete, auth)

	g.GET("/orders/", orders.List, auth)
	g.POST("/orders/", orders.Create, auth)
	g.GET("/orders/:id/", orders.Get, auth)
	g.PATCH("/orders/:id/update_status/", orders.UpdateStatus, auth, middleware.RequireStaff())
}
