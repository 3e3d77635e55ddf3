package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products on the storefront (Pain Relief, Vitamins,
// First Aid, ...).  ProductCount is computed on read.
type Category struct {
	ID           uint64    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ProductCount int       `json:"product_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Product is a medicine or health product in the catalog.  Price is the
// current shelf price; clients use it for display only and the server
// re-reads it when an order is placed.
//
// Fields:
//  ID                   – primary key identifier.
//  Name                 – display name.
//  Description          – long description.
//  Price                – unit price (two decimals, at least 0.01).
//  StockQuantity        – units available, never negative.
//  CategoryID           – owning category, nil when uncategorised.
//  CategoryName         – denormalised category name for listings.
//  ImageURL             – optional product image.
//  RequiresPrescription – whether a prescription must accompany the order.
//  InStock              – StockQuantity > 0, computed on read.
type Product struct {
	ID                   uint64          `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	Price                decimal.Decimal `json:"price"`
	StockQuantity        int             `json:"stock_quantity"`
	CategoryID           *uint64         `json:"category,omitempty"`
	CategoryName         string          `json:"category_name,omitempty"`
	ImageURL             string          `json:"image_url,omitempty"`
	RequiresPrescription bool            `json:"requires_prescription"`
	InStock              bool            `json:"in_stock"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ProductInput is the body accepted by the staff-only product create and
// update endpoints.  Nil fields are left untouched on PATCH.
type ProductInput struct {
	Name                 *string          `json:"name"`
	Description          *string          `json:"description"`
	Price                *decimal.Decimal `json:"price"`
	StockQuantity        *int             `json:"stock_quantity"`
	CategoryID           *uint64          `json:"category"`
	ImageURL             *string          `json:"image_url"`
	RequiresPrescription *bool            `json:"requires_prescription"`
}

// CategoryInput is the body accepted by the staff-only category endpoints.
type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
