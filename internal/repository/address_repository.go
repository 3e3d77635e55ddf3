package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

// AddressRepo stores delivery addresses.  Every query is scoped to the
// owning user; another user's address is reported as ErrNotFound.
type AddressRepo struct{ DB *sql.DB }

func NewAddressRepo(db *sql.DB) *AddressRepo { return &AddressRepo{DB: db} }

const addressSelect = `SELECT id, full_name, phone_number, street_address, building, area, city, emirate,
		postal_code, is_default FROM addresses`

func scanAddress(row interface{ Scan(...any) error }) (model.Address, error) {
	var a model.Address
	err := row.Scan(&a.ID, &a.FullName, &a.PhoneNumber, &a.StreetAddress, &a.Building, &a.Area,
		&a.City, &a.Emirate, &a.PostalCode, &a.IsDefault)
	return a, notFound(err)
}

// List returns the user's addresses, default first.
func (r *AddressRepo) List(ctx context.Context, userID uint64) ([]model.Address, error) {
	rows, err := r.DB.QueryContext(ctx, addressSelect+" WHERE user_id=? ORDER BY is_default DESC, id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Address{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AddressRepo) Get(ctx context.Context, userID, id uint64) (model.Address, error) {
	return scanAddress(r.DB.QueryRowContext(ctx, addressSelect+" WHERE id=? AND user_id=?", id, userID))
}

// Create stores a. Marking it default clears the flag on the user's other
// addresses.
func (r *AddressRepo) Create(ctx context.Context, userID uint64, a model.Address) (model.Address, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Address{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if a.IsDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE addresses SET is_default=0 WHERE user_id=?", userID); err != nil {
			return model.Address{}, err
		}
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO addresses
		(user_id, full_name, phone_number, street_address, building, area, city, emirate, postal_code, is_default)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		userID, a.FullName, a.PhoneNumber, a.StreetAddress, a.Building, a.Area, a.City, a.Emirate, a.PostalCode, a.IsDefault)
	if err != nil {
		return model.Address{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Address{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Address{}, err
	}
	a.ID = uint64(id)
	return a, nil
}

// Update overwrites one of the user's addresses.
func (r *AddressRepo) Update(ctx context.Context, userID uint64, a model.Address) (model.Address, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Address{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var owned uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM addresses WHERE id=? AND user_id=? FOR UPDATE", a.ID, userID).
		Scan(&owned); err != nil {
		return model.Address{}, notFound(err)
	}
	if a.IsDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE addresses SET is_default=0 WHERE user_id=? AND id<>?", userID, a.ID); err != nil {
			return model.Address{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE addresses SET full_name=?, phone_number=?, street_address=?, building=?,
		area=?, city=?, emirate=?, postal_code=?, is_default=? WHERE id=?`,
		a.FullName, a.PhoneNumber, a.StreetAddress, a.Building, a.Area, a.City, a.Emirate, a.PostalCode, a.IsDefault, a.ID); err != nil {
		return model.Address{}, err
	}
	return a, tx.Commit()
}

// Delete removes one of the user's addresses.  Orders shipped to it keep
// a nil delivery address.
func (r *AddressRepo) Delete(ctx context.Context, userID, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM addresses WHERE id=? AND user_id=?", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
