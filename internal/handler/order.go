package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pharmacy-storefront/internal/middleware"
	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/queue"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
)

// Orders is the order persistence.
type Orders interface {
	Create(ctx context.Context, userID, addressID uint64) (repository.PlacedOrder, error)
	Get(ctx context.Context, id, userID uint64, isStaff bool) (model.Order, error)
	List(ctx context.Context, userID uint64, isStaff bool) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id uint64, status string) (repository.StatusChange, error)
}

// OrderHandler places and reads orders.  Customers see their own orders;
// staff see all of them and move them through the status workflow.
type OrderHandler struct {
	Orders Orders
	Notify Notifier
}

// NewOrderHandler wires the handler to its order store and notifier.
func NewOrderHandler(o Orders, n Notifier) *OrderHandler { return &OrderHandler{Orders: o, Notify: n} }

// List handles GET /api/orders/, newest first.  Staff see every order.
func (h *OrderHandler) List(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Orders.List(ctx, uid, middleware.IsStaff(c))
	if err != nil {
		return internalError(c, "list orders", err)
	}
	return c.JSON(http.StatusOK, out)
}

// Get handles GET /api/orders/:id/.  A customer asking for another
// user's order gets 404.
func (h *OrderHandler) Get(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	o, err := h.Orders.Get(ctx, id, uid, middleware.IsStaff(c))
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "get order", err)
	}
	return c.JSON(http.StatusOK, o)
}

// Create handles POST /api/orders/.  It places a cash-on-delivery order
// from the caller's cart: prices are re-read from the catalog, stock is
// decremented and the cart emptied in one transaction.  An empty cart is
// 400, an address the caller does not own is 404 and a line exceeding
// stock is 400.  The order_placed notification is best effort.
func (h *OrderHandler) Create(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	var req model.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.DeliveryAddressID == 0 {
		return badRequest(c, "delivery_address is required")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	placed, err := h.Orders.Create(ctx, uid, req.DeliveryAddressID)
	if errors.Is(err, repository.ErrEmptyCart) {
		return badRequest(c, repository.ErrEmptyCart.Error())
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Address not found")
	}
	if ok, reply := stockReply(c, err); ok {
		return reply
	}
	if err != nil {
		return internalError(c, "create order", err)
	}

	o := placed.Order
	items := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, fmt.Sprintf("%d x %s", it.Quantity, it.ProductName))
	}
	notify(ctx, h.Notify, queue.Notification{
		Kind:        queue.KindOrderPlaced,
		UserID:      uid,
		Username:    o.Username,
		Email:       placed.Email,
		OrderID:     o.ID,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Items:       items,
	})
	return c.JSON(http.StatusCreated, o)
}

// UpdateStatus handles PATCH /api/orders/:id/update_status/ (staff only).
// Moving to delivered stamps delivered_at.  The customer is notified only
// when the status actually changes.
func (h *OrderHandler) UpdateStatus(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	var req model.UpdateOrderStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if !model.ValidOrderStatus(req.Status) {
		return badRequest(c, "Invalid status")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	ch, err := h.Orders.UpdateStatus(ctx, id, req.Status)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "update order status", err)
	}
	if ch.OldStatus != req.Status {
		notify(ctx, h.Notify, queue.Notification{
			Kind:      queue.KindOrderStatus,
			UserID:    ch.UserID,
			Username:  ch.Order.Username,
			Email:     ch.Email,
			OrderID:   ch.Order.ID,
			OldStatus: ch.OldStatus,
			NewStatus: req.Status,
		})
	}
	return c.JSON(http.StatusOK, ch.Order)
}
