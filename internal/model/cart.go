package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the server's view of a user's cart as returned by GET /cart/.
// TotalPrice and TotalItems are derived from Items when the response is
// built; they are never stored.
type Cart struct {
	ID         uint64          `json:"id"`
	Items      []CartItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	TotalItems int             `json:"total_items"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CartItem is one product line of a cart.  A product appears at most once
// per cart; adding it again increases Quantity.
type CartItem struct {
	ID       uint64          `json:"id"`
	Product  Product         `json:"product"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
	AddedAt  time.Time       `json:"added_at"`
}

// AddCartItemRequest is the body of POST /cart/add_item/.
type AddCartItemRequest struct {
	ProductID uint64 `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// UpdateCartItemRequest is the body of PATCH /cart/update_item/.  A
// quantity of zero or less removes the line.
type UpdateCartItemRequest struct {
	CartItemID uint64 `json:"cart_item_id"`
	Quantity   *int   `json:"quantity"`
}

// RemoveCartItemRequest is the body of DELETE /cart/remove_item/.
type RemoveCartItemRequest struct {
	CartItemID uint64 `json:"cart_item_id"`
}

// MessageResponse is the generic acknowledgement body used by endpoints
// that do not return an entity.
type MessageResponse struct {
	Message string `json:"message"`
}
