package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
)

// Carts is the cart persistence.
type Carts interface {
	Get(ctx context.Context, userID uint64) (model.Cart, error)
	AddItem(ctx context.Context, userID, productID uint64, quantity int) (model.CartItem, bool, error)
	UpdateItem(ctx context.Context, userID, itemID uint64, quantity int) (*model.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID uint64) error
	Clear(ctx context.Context, userID uint64) error
}

// CartHandler serves the caller's cart.  Every route sits behind JWTAuth,
// so the user id always comes from the access token; a cart is never
// addressed by id.  Quantities are checked against stock on every write
// and the reply carries the whole line so clients can reconcile.
type CartHandler struct {
	Carts Carts
}

// NewCartHandler wires the handler to its cart store.
func NewCartHandler(c Carts) *CartHandler { return &CartHandler{Carts: c} }

// Get handles GET /api/cart/.  It returns the caller's cart with its
// lines, total_items and total_price, creating an empty cart on first
// use.
func (h *CartHandler) Get(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cart, err := h.Carts.Get(ctx, uid)
	if err != nil {
		return internalError(c, "get cart", err)
	}
	return c.JSON(http.StatusOK, cart)
}

// AddItem handles POST /api/cart/add_item/.  The body names a product_id
// and an optional quantity (default 1).  Adding a product already in the
// cart grows that line.  It answers 201 with the new line, 200 with the
// grown line, 404 for an unknown product and 400 when the resulting
// quantity exceeds stock.
func (h *CartHandler) AddItem(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	var req struct {
		ProductID uint64 `json:"product_id"`
		Quantity  *int   `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.ProductID == 0 {
		return badRequest(c, "product_id is required")
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	if qty < 1 {
		return fieldErrors{"quantity": {"Quantity must be at least 1"}}.reply(c)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	item, created, err := h.Carts.AddItem(ctx, uid, req.ProductID, qty)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Product not found")
	}
	if ok, reply := stockReply(c, err); ok {
		return reply
	}
	if err != nil {
		return internalError(c, "add cart item", err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, item)
}

// UpdateItem handles PATCH /api/cart/update_item/.  It sets a line's
// quantity to the absolute value sent; zero or less removes the line and
// answers with a message instead of the line.  Lines of other users are
// 404.
func (h *CartHandler) UpdateItem(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	var req model.UpdateCartItemRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.CartItemID == 0 || req.Quantity == nil {
		return badRequest(c, "cart_item_id and quantity are required")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	item, err := h.Carts.UpdateItem(ctx, uid, req.CartItemID, *req.Quantity)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Cart item not found")
	}
	if ok, reply := stockReply(c, err); ok {
		return reply
	}
	if err != nil {
		return internalError(c, "update cart item", err)
	}
	if item == nil {
		return c.JSON(http.StatusOK, model.MessageResponse{Message: "Item removed from cart"})
	}
	return c.JSON(http.StatusOK, item)
}

// RemoveItem handles DELETE /api/cart/remove_item/.  The line id comes
// from the JSON body, or from ?cart_item_id= for clients that cannot send
// a DELETE body.
func (h *CartHandler) RemoveItem(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	var req model.RemoveCartItemRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.CartItemID == 0 {
		req.CartItemID, _ = strconv.ParseUint(c.QueryParam("cart_item_id"), 10, 64)
	}
	if req.CartItemID == 0 {
		return badRequest(c, "cart_item_id is required")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	err = h.Carts.RemoveItem(ctx, uid, req.CartItemID)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Cart item not found")
	}
	if err != nil {
		return internalError(c, "remove cart item", err)
	}
	return c.JSON(http.StatusOK, model.MessageResponse{Message: "Item removed from cart"})
}

// Clear handles DELETE /api/cart/clear/ and removes every line.
func (h *CartHandler) Clear(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	err = h.Carts.Clear(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "clear cart", err)
	}
	return c.JSON(http.StatusOK, model.MessageResponse{Message: "Cart cleared"})
}
