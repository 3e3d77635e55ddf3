package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order status values.  Orders start pending (cash on delivery) and are
// advanced by staff.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

// ValidOrderStatus reports whether s is one of the known order states.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Order is a permanent record of a checkout.  It is created from the
// user's cart in a single transaction; item prices are captured at
// purchase time so later catalog changes do not alter history.
//
// Fields:
//  ID              – primary key identifier.
//  Username        – owner, included for the staff order board.
//  DeliveryAddress – address snapshot, nil if the address was deleted.
//  Status          – one of the Order* constants.
//  TotalAmount     – Σ price_at_purchase × quantity.
//  Items           – purchased lines.
//  DeliveredAt     – set when the status becomes delivered.
type Order struct {
	ID              uint64          `json:"id"`
	Username        string          `json:"username,omitempty"`
	DeliveryAddress *Address        `json:"delivery_address"`
	Status          string          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeliveredAt     *time.Time      `json:"delivered_at"`
}

// OrderItem is one purchased line.  ProductID is nil when the product has
// since been deleted; ProductName keeps the line readable.
type OrderItem struct {
	ID              uint64          `json:"id"`
	ProductID       *uint64         `json:"product"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

// CreateOrderRequest is the body of POST /orders/.
type CreateOrderRequest struct {
	DeliveryAddressID uint64 `json:"delivery_address"`
}

// UpdateOrderStatusRequest is the body of PATCH /orders/{id}/update_status/.
type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}
