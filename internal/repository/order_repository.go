package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

// OrderRepo places and reads orders.
type OrderRepo struct{ DB *sql.DB }

func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{DB: db} }

// PlacedOrder is what Create returns: the order plus the owner's contact
// details, which the order.placed notification needs.
type PlacedOrder struct {
	Order model.Order
	Email string
}

// Create turns the user's cart into an order in one transaction.  Every
// line is priced from the current product row and decrements its stock;
// the cart is emptied.  An empty cart is ErrEmptyCart, a foreign or
// missing address ErrNotFound, and a line above stock a *StockError.
func (r *OrderRepo) Create(ctx context.Context, userID, addressID uint64) (PlacedOrder, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return PlacedOrder{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var cid uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM carts WHERE user_id=? FOR UPDATE", userID).Scan(&cid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlacedOrder{}, ErrEmptyCart
		}
		return PlacedOrder{}, err
	}

	type line struct {
		productID uint64
		name      string
		quantity  int
		price     decimal.Decimal
		stock     int
	}
	rows, err := tx.QueryContext(ctx, `SELECT p.id, p.name, ci.quantity, p.price, p.stock_quantity
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id=? ORDER BY ci.added_at, ci.id FOR UPDATE`, cid)
	if err != nil {
		return PlacedOrder{}, err
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.name, &l.quantity, &l.price, &l.stock); err != nil {
			rows.Close()
			return PlacedOrder{}, err
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return PlacedOrder{}, err
	}
	if len(lines) == 0 {
		return PlacedOrder{}, ErrEmptyCart
	}
	var aid uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM addresses WHERE id=? AND user_id=?", addressID, userID).
		Scan(&aid); err != nil {
		return PlacedOrder{}, notFound(err)
	}

	total := decimal.Zero
	for _, l := range lines {
		if l.quantity > l.stock {
			return PlacedOrder{}, &StockError{ProductName: l.name, Available: l.stock}
		}
		total = total.Add(l.price.Mul(decimal.NewFromInt(int64(l.quantity))))
	}

	res, err := tx.ExecContext(ctx, "INSERT INTO orders (user_id, delivery_address_id, total_amount) VALUES (?,?,?)",
		userID, aid, total.StringFixed(2))
	if err != nil {
		return PlacedOrder{}, err
	}
	oid, err := res.LastInsertId()
	if err != nil {
		return PlacedOrder{}, err
	}
	for _, l := range lines {
		if _, err := tx.ExecContext(ctx, `INSERT INTO order_items (order_id, product_id, product_name, quantity, price_at_purchase)
			VALUES (?,?,?,?,?)`, oid, l.productID, l.name, l.quantity, l.price.StringFixed(2)); err != nil {
			return PlacedOrder{}, err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE products SET stock_quantity = stock_quantity - ? WHERE id=?",
			l.quantity, l.productID); err != nil {
			return PlacedOrder{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id=?", cid); err != nil {
		return PlacedOrder{}, err
	}

	var email string
	if err := tx.QueryRowContext(ctx, "SELECT email FROM users WHERE id=?", userID).Scan(&email); err != nil {
		return PlacedOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return PlacedOrder{}, err
	}
	o, err := r.get(ctx, uint64(oid), 0)
	return PlacedOrder{Order: o, Email: email}, err
}

const orderSelect = `SELECT o.id, u.username, o.status, o.total_amount, o.created_at, o.updated_at, o.delivered_at,
		a.id, a.full_name, a.phone_number, a.street_address, a.building, a.area, a.city, a.emirate, a.postal_code, a.is_default
	FROM orders o
	JOIN users u ON u.id = o.user_id
	LEFT JOIN addresses a ON a.id = o.delivery_address_id`

func scanOrder(row interface{ Scan(...any) error }) (model.Order, error) {
	var (
		o           model.Order
		delivered   sql.NullTime
		aID         sql.NullInt64
		aName       sql.NullString
		aPhone      sql.NullString
		aStreet     sql.NullString
		aBuilding   sql.NullString
		aArea       sql.NullString
		aCity       sql.NullString
		aEmirate    sql.NullString
		aPostalCode sql.NullString
		aDefault    sql.NullBool
	)
	err := row.Scan(&o.ID, &o.Username, &o.Status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt, &delivered,
		&aID, &aName, &aPhone, &aStreet, &aBuilding, &aArea, &aCity, &aEmirate, &aPostalCode, &aDefault)
	if err != nil {
		return model.Order{}, notFound(err)
	}
	if delivered.Valid {
		t := delivered.Time
		o.DeliveredAt = &t
	}
	if aID.Valid {
		o.DeliveryAddress = &model.Address{
			ID:            uint64(aID.Int64),
			FullName:      aName.String,
			PhoneNumber:   aPhone.String,
			StreetAddress: aStreet.String,
			Building:      aBuilding.String,
			Area:          aArea.String,
			City:          aCity.String,
			Emirate:       aEmirate.String,
			PostalCode:    aPostalCode.String,
			IsDefault:     aDefault.Bool,
		}
	}
	o.Items = []model.OrderItem{}
	return o, nil
}

// get loads one order with items.  userID 0 skips the owner check.
func (r *OrderRepo) get(ctx context.Context, id, userID uint64) (model.Order, error) {
	q := orderSelect + " WHERE o.id=?"
	args := []any{id}
	if userID != 0 {
		q += " AND o.user_id=?"
		args = append(args, userID)
	}
	o, err := scanOrder(r.DB.QueryRowContext(ctx, q, args...))
	if err != nil {
		return model.Order{}, err
	}
	orders := []model.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return model.Order{}, err
	}
	return orders[0], nil
}

// Get returns one order.  Staff may read any order; other users only
// their own.
func (r *OrderRepo) Get(ctx context.Context, id, userID uint64, isStaff bool) (model.Order, error) {
	if isStaff {
		userID = 0
	}
	return r.get(ctx, id, userID)
}

// List returns orders newest first: all of them for staff, otherwise the
// user's own.
func (r *OrderRepo) List(ctx context.Context, userID uint64, isStaff bool) ([]model.Order, error) {
	q := orderSelect
	args := []any{}
	if !isStaff {
		q += " WHERE o.user_id=?"
		args = append(args, userID)
	}
	q += " ORDER BY o.created_at DESC, o.id DESC"
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, r.attachItems(ctx, out)
}

func (r *OrderRepo) attachItems(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	idx := make(map[uint64]int, len(orders))
	args := make([]any, 0, len(orders))
	for i, o := range orders {
		idx[o.ID] = i
		args = append(args, o.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orders)), ",")
	rows, err := r.DB.QueryContext(ctx, `SELECT id, order_id, product_id, product_name, quantity, price_at_purchase
		FROM order_items WHERE order_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it      model.OrderItem
			orderID uint64
			pid     sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &orderID, &pid, &it.ProductName, &it.Quantity, &it.PriceAtPurchase); err != nil {
			return err
		}
		if pid.Valid {
			id := uint64(pid.Int64)
			it.ProductID = &id
		}
		it.Subtotal = it.PriceAtPurchase.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o := &orders[idx[orderID]]
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

// StatusChange is the result of UpdateStatus.
type StatusChange struct {
	Order     model.Order
	OldStatus string
	UserID    uint64
	Email     string
}

// UpdateStatus moves an order to status.  Reaching delivered stamps
// delivered_at.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id uint64, status string) (StatusChange, error) {
	var (
		old   string
		uid   uint64
		email string
	)
	err := r.DB.QueryRowContext(ctx, "SELECT o.status, u.id, u.email FROM orders o JOIN users u ON u.id = o.user_id WHERE o.id=?", id).
		Scan(&old, &uid, &email)
	if err != nil {
		return StatusChange{}, notFound(err)
	}
	var deliveredAt any
	if status == model.OrderDelivered {
		deliveredAt = time.Now().UTC()
	}
	if _, err := r.DB.ExecContext(ctx, "UPDATE orders SET status=?, delivered_at=COALESCE(?, delivered_at) WHERE id=?",
		status, deliveredAt, id); err != nil {
		return StatusChange{}, err
	}
	o, err := r.get(ctx, id, 0)
	return StatusChange{Order: o, OldStatus: old, UserID: uid, Email: email}, err
}
