// Package repository implements MySQL persistence for the storefront.  The
// sentinel errors below let handlers tell failure scenarios apart and map
// them to HTTP statuses.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a row does not exist or is not visible to
// the caller (another user's address or order).  Handlers answer 404.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with a unique key, such as
// a duplicate category name.
var ErrConflict = errors.New("conflict")

// ErrUsernameExists is returned by registration for a taken username.
var ErrUsernameExists = errors.New("A user with that username already exists.")

// ErrEmptyCart is returned when an order is placed from an empty cart.
var ErrEmptyCart = errors.New("Cart is empty")

// StockError reports that a cart line or order would exceed the units on
// hand.  Available is the current stock.
type StockError struct {
	ProductName string
	Available   int
}

func (e *StockError) Error() string {
	return "insufficient stock for " + e.ProductName
}

// ErrInsufficientStock matches any *StockError with errors.Is.
var ErrInsufficientStock = errors.New("insufficient stock")

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isDuplicate reports a MySQL duplicate-key error (ER_DUP_ENTRY).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
