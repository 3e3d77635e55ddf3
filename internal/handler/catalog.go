package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
)

// Catalog is the product and category persistence.
type Catalog interface {
	ListProducts(ctx context.Context, f repository.ProductFilter) ([]model.Product, error)
	GetProduct(ctx context.Context, id uint64) (model.Product, error)
	CreateProduct(ctx context.Context, f repository.ProductFields) (model.Product, error)
	UpdateProduct(ctx context.Context, id uint64, f repository.ProductFields) (model.Product, error)
	DeleteProduct(ctx context.Context, id uint64) error

	ListCategories(ctx context.Context) ([]model.Category, error)
	GetCategory(ctx context.Context, id uint64) (model.Category, error)
	CreateCategory(ctx context.Context, in model.CategoryInput) (model.Category, error)
	UpdateCategory(ctx context.Context, id uint64, in model.CategoryInput) (model.Category, error)
	DeleteCategory(ctx context.Context, id uint64) error
}

// CatalogHandler serves products and categories.  Reads are public;
// writes are staff only and flush the response cache.
type CatalogHandler struct {
	Catalog    Catalog
	Invalidate func(ctx context.Context) // optional
}

// NewCatalogHandler wires the handler to the catalog store.  invalidate
// is called after every successful write and may be nil.
func NewCatalogHandler(c Catalog, invalidate func(ctx context.Context)) *CatalogHandler {
	return &CatalogHandler{Catalog: c, Invalidate: invalidate}
}

const maxListLimit = 100

var minPrice = decimal.RequireFromString("0.01")

// changed flushes cached catalog responses; it must not be cut short by
// the request's own deadline.
func (h *CatalogHandler) changed(ctx context.Context) {
	if h.Invalidate != nil {
		h.Invalidate(context.WithoutCancel(ctx))
	}
}

// ListProducts handles GET /api/products/.  ?search= matches name or
// description, ?category= narrows to one category and ?limit= caps the
// result (at most 100).  The type-ahead box uses search and limit.
func (h *CatalogHandler) ListProducts(c echo.Context) error {
	f := repository.ProductFilter{Search: strings.TrimSpace(c.QueryParam("search"))}
	if s := c.QueryParam("category"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fieldErrors{"category": {"Select a valid choice."}}.reply(c)
		}
		f.CategoryID = id
	}
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return fieldErrors{"limit": {"A positive integer is required."}}.reply(c)
		}
		f.Limit = min(n, maxListLimit)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Catalog.ListProducts(ctx, f)
	if err != nil {
		return internalError(c, "list products", err)
	}
	return c.JSON(http.StatusOK, out)
}

// GetProduct handles GET /api/products/:id/.
func (h *CatalogHandler) GetProduct(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	p, err := h.Catalog.GetProduct(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "get product", err)
	}
	return c.JSON(http.StatusOK, p)
}

// mergeProduct applies in over base and validates the result.  full
// requires every mandatory field to be present (POST and PUT).
func (h *CatalogHandler) mergeProduct(ctx context.Context, base repository.ProductFields, in model.ProductInput, full bool) (repository.ProductFields, fieldErrors, error) {
	fe := fieldErrors{}
	if full {
		if in.Name == nil {
			fe.add("name", "This field is required.")
		}
		if in.Price == nil {
			fe.add("price", "This field is required.")
		}
	}
	f := base
	if in.Name != nil {
		f.Name = strings.TrimSpace(*in.Name)
		if f.Name == "" {
			fe.add("name", "This field may not be blank.")
		} else if len(f.Name) > 200 {
			fe.add("name", "Ensure this field has no more than 200 characters.")
		}
	}
	if in.Description != nil {
		f.Description = *in.Description
	}
	if in.Price != nil {
		f.Price = *in.Price
		if f.Price.LessThan(minPrice) {
			fe.add("price", "Ensure this value is greater than or equal to 0.01.")
		} else if !f.Price.Equal(f.Price.Round(2)) {
			fe.add("price", "Ensure that there are no more than 2 decimal places.")
		}
	}
	if in.StockQuantity != nil {
		f.StockQuantity = *in.StockQuantity
		if f.StockQuantity < 0 {
			fe.add("stock_quantity", "Ensure this value is greater than or equal to 0.")
		}
	}
	if in.ImageURL != nil {
		f.ImageURL = strings.TrimSpace(*in.ImageURL)
	}
	if in.RequiresPrescription != nil {
		f.RequiresPrescription = *in.RequiresPrescription
	}
	if in.CategoryID != nil {
		if *in.CategoryID == 0 {
			f.CategoryID = nil
		} else {
			if _, err := h.Catalog.GetCategory(ctx, *in.CategoryID); err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					return f, nil, err
				}
				fe.add("category", "Invalid pk - object does not exist.")
			}
			id := *in.CategoryID
			f.CategoryID = &id
		}
	}
	return f, fe, nil
}

func fieldsOf(p model.Product) repository.ProductFields {
	return repository.ProductFields{
		Name:                 p.Name,
		Description:          p.Description,
		Price:                p.Price,
		StockQuantity:        p.StockQuantity,
		CategoryID:           p.CategoryID,
		ImageURL:             p.ImageURL,
		RequiresPrescription: p.RequiresPrescription,
	}
}

// CreateProduct handles POST /api/products/ (staff only).  Name, price
// and stock_quantity are required; price must be at least 0.01 with two
// decimals and category, when given, must exist.
func (h *CatalogHandler) CreateProduct(c echo.Context) error {
	var in model.ProductInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	f, fe, err := h.mergeProduct(ctx, repository.ProductFields{}, in, true)
	if err != nil {
		return internalError(c, "validate product", err)
	}
	if len(fe) > 0 {
		return fe.reply(c)
	}
	p, err := h.Catalog.CreateProduct(ctx, f)
	if err != nil {
		return internalError(c, "create product", err)
	}
	h.changed(ctx)
	return c.JSON(http.StatusCreated, p)
}

// UpdateProduct handles PUT (full) and PATCH (partial)
// /api/products/:id/ (staff only) with the same rules as CreateProduct.
func (h *CatalogHandler) UpdateProduct(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	var in model.ProductInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	cur, err := h.Catalog.GetProduct(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "get product", err)
	}
	f, fe, err := h.mergeProduct(ctx, fieldsOf(cur), in, c.Request().Method == http.MethodPut)
	if err != nil {
		return internalError(c, "validate product", err)
	}
	if len(fe) > 0 {
		return fe.reply(c)
	}
	p, err := h.Catalog.UpdateProduct(ctx, id, f)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "update product", err)
	}
	h.changed(ctx)
	return c.JSON(http.StatusOK, p)
}

// DeleteProduct handles DELETE /api/products/:id/ (staff only).  Order
// lines keep the product name and price they were placed with.
func (h *CatalogHandler) DeleteProduct(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	err := h.Catalog.DeleteProduct(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "delete product", err)
	}
	h.changed(ctx)
	return c.NoContent(http.StatusNoContent)
}

// ListCategories handles GET /api/categories/ with each category's
// product_count.
func (h *CatalogHandler) ListCategories(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Catalog.ListCategories(ctx)
	if err != nil {
		return internalError(c, "list categories", err)
	}
	return c.JSON(http.StatusOK, out)
}

// GetCategory handles GET /api/categories/:id/.
func (h *CatalogHandler) GetCategory(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cat, err := h.Catalog.GetCategory(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "get category", err)
	}
	return c.JSON(http.StatusOK, cat)
}

// bindCategory decodes and checks a category body; a bind error means
// malformed JSON.
func bindCategory(c echo.Context) (model.CategoryInput, fieldErrors, error) {
	var in model.CategoryInput
	if err := c.Bind(&in); err != nil {
		return in, nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	fe := fieldErrors{}
	fe.required("name", in.Name)
	if len(in.Name) > 100 {
		fe.add("name", "Ensure this field has no more than 100 characters.")
	}
	return in, fe, nil
}

// CreateCategory handles POST /api/categories/ (staff only).  Names are
// unique; a duplicate is a 400 on the name field.
func (h *CatalogHandler) CreateCategory(c echo.Context) error {
	in, fe, err := bindCategory(c)
	if err != nil {
		return badRequest(c, "invalid body")
	}
	if len(fe) > 0 {
		return fe.reply(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cat, err := h.Catalog.CreateCategory(ctx, in)
	if errors.Is(err, repository.ErrConflict) {
		return fieldErrors{"name": {"category with this name already exists."}}.reply(c)
	}
	if err != nil {
		return internalError(c, "create category", err)
	}
	h.changed(ctx)
	return c.JSON(http.StatusCreated, cat)
}

// UpdateCategory handles PUT and PATCH /api/categories/:id/ (staff only).
func (h *CatalogHandler) UpdateCategory(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	in, fe, err := bindCategory(c)
	if err != nil {
		return badRequest(c, "invalid body")
	}
	if len(fe) > 0 {
		return fe.reply(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cat, err := h.Catalog.UpdateCategory(ctx, id, in)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return notFoundReply(c, "Not found.")
	case errors.Is(err, repository.ErrConflict):
		return fieldErrors{"name": {"category with this name already exists."}}.reply(c)
	case err != nil:
		return internalError(c, "update category", err)
	}
	h.changed(ctx)
	return c.JSON(http.StatusOK, cat)
}

// DeleteCategory handles DELETE /api/categories/:id/ (staff only).  Its
// products stay in the catalog without a category.
func (h *CatalogHandler) DeleteCategory(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return notFoundReply(c, "Not found.")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	err := h.Catalog.DeleteCategory(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundReply(c, "Not found.")
	}
	if err != nil {
		return internalError(c, "delete category", err)
	}
	h.changed(ctx)
	return c.NoContent(http.StatusNoContent)
}
