package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
)

// ProductFilter narrows a product listing.  Search is a case-insensitive
// substring match on name or description.
type ProductFilter struct {
	Search     string
	CategoryID uint64
	Limit      int
}

// CatalogRepo serves categories and products.
type CatalogRepo struct{ DB *sql.DB }

func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{DB: db} }

const productSelect = `SELECT p.id, p.name, p.description, p.price, p.stock_quantity,
		p.category_id, c.name, p.image_url, p.requires_prescription, p.created_at, p.updated_at
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id`

func scanProduct(row interface{ Scan(...any) error }) (model.Product, error) {
	var (
		p       model.Product
		catID   sql.NullInt64
		catName sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity,
		&catID, &catName, &p.ImageURL, &p.RequiresPrescription, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Product{}, notFound(err)
	}
	if catID.Valid {
		id := uint64(catID.Int64)
		p.CategoryID = &id
		p.CategoryName = catName.String
	}
	p.InStock = p.StockQuantity > 0
	return p, nil
}

// ListProducts returns products newest first.
func (r *CatalogRepo) ListProducts(ctx context.Context, f ProductFilter) ([]model.Product, error) {
	where := []string{}
	args := []any{}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "(LOWER(p.name) LIKE ? OR LOWER(p.description) LIKE ?)")
		like := "%" + strings.ToLower(s) + "%"
		args = append(args, like, like)
	}
	if f.CategoryID != 0 {
		where = append(where, "p.category_id = ?")
		args = append(args, f.CategoryID)
	}
	q := productSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY p.created_at DESC, p.id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProduct fetches one product.
func (r *CatalogRepo) GetProduct(ctx context.Context, id uint64) (model.Product, error) {
	return scanProduct(r.DB.QueryRowContext(ctx, productSelect+" WHERE p.id=?", id))
}

// ProductFields is a fully populated product write.
type ProductFields struct {
	Name                 string
	Description          string
	Price                decimal.Decimal
	StockQuantity        int
	CategoryID           *uint64
	ImageURL             string
	RequiresPrescription bool
}

// CreateProduct inserts a product.
func (r *CatalogRepo) CreateProduct(ctx context.Context, f ProductFields) (model.Product, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO products (name, description, price, stock_quantity, category_id, image_url, requires_prescription)
		 VALUES (?,?,?,?,?,?,?)`,
		f.Name, f.Description, f.Price.StringFixed(2), f.StockQuantity, f.CategoryID, f.ImageURL, f.RequiresPrescription)
	if err != nil {
		return model.Product{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Product{}, err
	}
	return r.GetProduct(ctx, uint64(id))
}

// UpdateProduct overwrites every column of a product.
func (r *CatalogRepo) UpdateProduct(ctx context.Context, id uint64, f ProductFields) (model.Product, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE products SET name=?, description=?, price=?, stock_quantity=?, category_id=?, image_url=?,
		 requires_prescription=? WHERE id=?`,
		f.Name, f.Description, f.Price.StringFixed(2), f.StockQuantity, f.CategoryID, f.ImageURL, f.RequiresPrescription, id)
	if err != nil {
		return model.Product{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports 0 for unchanged rows too
		if _, err := r.GetProduct(ctx, id); err != nil {
			return model.Product{}, err
		}
	}
	return r.GetProduct(ctx, id)
}

// DeleteProduct removes a product.  Order lines keep their snapshot.
func (r *CatalogRepo) DeleteProduct(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM products WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const categorySelect = `SELECT c.id, c.name, c.description, c.created_at,
		(SELECT COUNT(*) FROM products p WHERE p.category_id = c.id)
	FROM categories c`

func scanCategory(row interface{ Scan(...any) error }) (model.Category, error) {
	var c model.Category
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.ProductCount)
	return c, notFound(err)
}

// ListCategories returns categories by name.
func (r *CatalogRepo) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.DB.QueryContext(ctx, categorySelect+" ORDER BY c.name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) GetCategory(ctx context.Context, id uint64) (model.Category, error) {
	return scanCategory(r.DB.QueryRowContext(ctx, categorySelect+" WHERE c.id=?", id))
}

// CreateCategory inserts a category; a duplicate name is ErrConflict.
func (r *CatalogRepo) CreateCategory(ctx context.Context, in model.CategoryInput) (model.Category, error) {
	res, err := r.DB.ExecContext(ctx, "INSERT INTO categories (name, description) VALUES (?,?)",
		strings.TrimSpace(in.Name), in.Description)
	if err != nil {
		if isDuplicate(err) {
			return model.Category{}, ErrConflict
		}
		return model.Category{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Category{}, err
	}
	return r.GetCategory(ctx, uint64(id))
}

func (r *CatalogRepo) UpdateCategory(ctx context.Context, id uint64, in model.CategoryInput) (model.Category, error) {
	if _, err := r.GetCategory(ctx, id); err != nil {
		return model.Category{}, err
	}
	if _, err := r.DB.ExecContext(ctx, "UPDATE categories SET name=?, description=? WHERE id=?",
		strings.TrimSpace(in.Name), in.Description, id); err != nil {
		if isDuplicate(err) {
			return model.Category{}, ErrConflict
		}
		return model.Category{}, err
	}
	return r.GetCategory(ctx, id)
}

// DeleteCategory removes a category; its products become uncategorised.
func (r *CatalogRepo) DeleteCategory(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM categories WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
