package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

// CartRepo stores the single cart each user owns.
type CartRepo struct{ DB *sql.DB }

func NewCartRepo(db *sql.DB) *CartRepo { return &CartRepo{DB: db} }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const cartItemSelect = `SELECT ci.id, ci.quantity, ci.added_at,
		p.id, p.name, p.description, p.price, p.stock_quantity,
		p.category_id, c.name, p.image_url, p.requires_prescription, p.created_at, p.updated_at
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	LEFT JOIN categories c ON c.id = p.category_id`

func scanCartItem(row interface{ Scan(...any) error }) (model.CartItem, error) {
	var (
		it      model.CartItem
		catID   sql.NullInt64
		catName sql.NullString
	)
	p := &it.Product
	err := row.Scan(&it.ID, &it.Quantity, &it.AddedAt,
		&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity,
		&catID, &catName, &p.ImageURL, &p.RequiresPrescription, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.CartItem{}, notFound(err)
	}
	if catID.Valid {
		id := uint64(catID.Int64)
		p.CategoryID = &id
		p.CategoryName = catName.String
	}
	p.InStock = p.StockQuantity > 0
	it.Subtotal = p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
	return it, nil
}

// cartID returns the user's cart id, creating the cart on first use.
func cartID(ctx context.Context, q queryer, userID uint64) (uint64, error) {
	if _, err := q.ExecContext(ctx, "INSERT IGNORE INTO carts (user_id) VALUES (?)", userID); err != nil {
		return 0, err
	}
	var id uint64
	err := q.QueryRowContext(ctx, "SELECT id FROM carts WHERE user_id=?", userID).Scan(&id)
	return id, err
}

// Get returns the user's cart with items in insertion order.
func (r *CartRepo) Get(ctx context.Context, userID uint64) (model.Cart, error) {
	id, err := cartID(ctx, r.DB, userID)
	if err != nil {
		return model.Cart{}, err
	}
	cart := model.Cart{ID: id, Items: []model.CartItem{}}
	if err := r.DB.QueryRowContext(ctx, "SELECT created_at, updated_at FROM carts WHERE id=?", id).
		Scan(&cart.CreatedAt, &cart.UpdatedAt); err != nil {
		return model.Cart{}, err
	}

	rows, err := r.DB.QueryContext(ctx, cartItemSelect+" WHERE ci.cart_id=? ORDER BY ci.added_at, ci.id", id)
	if err != nil {
		return model.Cart{}, err
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanCartItem(rows)
		if err != nil {
			return model.Cart{}, err
		}
		cart.Items = append(cart.Items, it)
	}
	if err := rows.Err(); err != nil {
		return model.Cart{}, err
	}
	cart.TotalPrice, cart.TotalItems = CartTotals(cart.Items)
	return cart, nil
}

// CartTotals sums subtotals and quantities.
func CartTotals(items []model.CartItem) (decimal.Decimal, int) {
	total := decimal.Zero
	n := 0
	for _, it := range items {
		total = total.Add(it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		n += it.Quantity
	}
	return total, n
}

// lockStock reads a product's name and stock under a row lock.
func lockStock(ctx context.Context, tx *sql.Tx, productID uint64) (string, int, error) {
	var (
		name  string
		stock int
	)
	err := tx.QueryRowContext(ctx, "SELECT name, stock_quantity FROM products WHERE id=? FOR UPDATE", productID).
		Scan(&name, &stock)
	return name, stock, notFound(err)
}

// AddItem adds quantity units of a product, incrementing an existing line.
// created reports whether a new line was inserted.  The resulting quantity
// may not exceed stock.
func (r *CartRepo) AddItem(ctx context.Context, userID, productID uint64, quantity int) (item model.CartItem, created bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.CartItem{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	cid, err := cartID(ctx, tx, userID)
	if err != nil {
		return model.CartItem{}, false, err
	}
	name, stock, err := lockStock(ctx, tx, productID)
	if err != nil {
		return model.CartItem{}, false, err
	}
	if stock < quantity {
		return model.CartItem{}, false, &StockError{ProductName: name, Available: stock}
	}

	var (
		itemID  uint64
		current int
	)
	err = tx.QueryRowContext(ctx, "SELECT id, quantity FROM cart_items WHERE cart_id=? AND product_id=? FOR UPDATE",
		cid, productID).Scan(&itemID, &current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, "INSERT INTO cart_items (cart_id, product_id, quantity) VALUES (?,?,?)",
			cid, productID, quantity)
		if err != nil {
			return model.CartItem{}, false, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return model.CartItem{}, false, err
		}
		itemID, created = uint64(id), true
	case err != nil:
		return model.CartItem{}, false, err
	default:
		if current+quantity > stock {
			return model.CartItem{}, false, &StockError{ProductName: name, Available: stock}
		}
		if _, err := tx.ExecContext(ctx, "UPDATE cart_items SET quantity=? WHERE id=?", current+quantity, itemID); err != nil {
			return model.CartItem{}, false, err
		}
	}

	item, err = scanCartItem(tx.QueryRowContext(ctx, cartItemSelect+" WHERE ci.id=?", itemID))
	if err != nil {
		return model.CartItem{}, false, err
	}
	return item, created, tx.Commit()
}

// UpdateItem sets a line's quantity.  A quantity of zero or less deletes
// the line and returns a nil item.  Lines of other users are ErrNotFound.
func (r *CartRepo) UpdateItem(ctx context.Context, userID, itemID uint64, quantity int) (*model.CartItem, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID uint64
	err = tx.QueryRowContext(ctx, `SELECT ci.product_id FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
		WHERE ci.id=? AND c.user_id=? FOR UPDATE`, itemID, userID).Scan(&productID)
	if err != nil {
		return nil, notFound(err)
	}
	name, stock, err := lockStock(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if quantity > stock {
		return nil, &StockError{ProductName: name, Available: stock}
	}
	if quantity <= 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE id=?", itemID); err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, "UPDATE cart_items SET quantity=? WHERE id=?", quantity, itemID); err != nil {
		return nil, err
	}
	it, err := scanCartItem(tx.QueryRowContext(ctx, cartItemSelect+" WHERE ci.id=?", itemID))
	if err != nil {
		return nil, err
	}
	return &it, tx.Commit()
}

// RemoveItem deletes one of the user's lines.
func (r *CartRepo) RemoveItem(ctx context.Context, userID, itemID uint64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE ci FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
		WHERE ci.id=? AND c.user_id=?`, itemID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear deletes every line of the user's cart.  A user without a cart is
// ErrNotFound.
func (r *CartRepo) Clear(ctx context.Context, userID uint64) error {
	var cid uint64
	if err := r.DB.QueryRowContext(ctx, "SELECT id FROM carts WHERE user_id=?", userID).Scan(&cid); err != nil {
		return notFound(err)
	}
	_, err := r.DB.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id=?", cid)
	return err
}
