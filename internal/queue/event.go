// Package queue defines the notification messages exchanged over RabbitMQ
// and the consumer that delivers them.
package queue

// NotificationQueue is the durable queue every notification goes through.
const NotificationQueue = "storefront.notifications"

// Notification kinds.
const (
	KindWelcome       = "welcome"
	KindOrderPlaced   = "order.placed"
	KindOrderStatus   = "order.status_changed"
	KindPasswordReset = "password_reset"
)

// Notification is one outgoing customer message.  Only the fields that
// matter for Kind are set.
type Notification struct {
	Kind      string `json:"kind"`
	UserID    uint64 `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`

	OrderID     uint64   `json:"order_id,omitempty"`
	TotalAmount string   `json:"total_amount,omitempty"`
	Items       []string `json:"items,omitempty"`
	OldStatus   string   `json:"old_status,omitempty"`
	NewStatus   string   `json:"new_status,omitempty"`

	ResetURL string `json:"reset_url,omitempty"`
}
