// Package seed loads the demo pharmacy catalog into an empty or partly
// populated store.  Existing categories and products are matched by name
// and left untouched, so running it twice changes nothing.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/iliyamo/pharmacy-storefront/internal/model"
	"github.com/iliyamo/pharmacy-storefront/internal/repository"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog is the subset of repository.CatalogRepo the seeder writes through.
type Catalog interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	CreateCategory(ctx context.Context, in model.CategoryInput) (model.Category, error)
	ListProducts(ctx context.Context, f repository.ProductFilter) ([]model.Product, error)
	CreateProduct(ctx context.Context, f repository.ProductFields) (model.Product, error)
}

type catalogFile struct {
	Categories []CategoryEntry `yaml:"categories"`
}

// CategoryEntry is one category of a catalog document with its products.
type CategoryEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Products    []ProductEntry `yaml:"products"`
}

// ProductEntry is one product; Price is a decimal string.
type ProductEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	Stock       int    `yaml:"stock"`
	Rx          bool   `yaml:"requires_prescription"`
}

// Result counts what a run created.
type Result struct {
	Categories int
	Products   int
}

// Parse decodes a catalog document.  Every product needs a positive price.
func Parse(data []byte) ([]CategoryEntry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: decode catalog: %w", err)
	}
	for _, c := range f.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("seed: category without a name")
		}
		for _, p := range c.Products {
			price, err := decimal.NewFromString(p.Price)
			if err != nil || !price.IsPositive() {
				return nil, fmt.Errorf("seed: product %q: invalid price %q", p.Name, p.Price)
			}
		}
	}
	return f.Categories, nil
}

// Run creates the embedded demo catalog.
func Run(ctx context.Context, cat Catalog) (Result, error) {
	entries, err := Parse(catalogYAML)
	if err != nil {
		return Result{}, err
	}
	return Load(ctx, cat, entries)
}

// Load creates whatever part of entries is missing from cat.
func Load(ctx context.Context, cat Catalog, entries []CategoryEntry) (Result, error) {
	var res Result

	existing, err := cat.ListCategories(ctx)
	if err != nil {
		return res, fmt.Errorf("seed: list categories: %w", err)
	}
	catIDs := make(map[string]uint64, len(existing))
	for _, c := range existing {
		catIDs[c.Name] = c.ID
	}
	products, err := cat.ListProducts(ctx, repository.ProductFilter{})
	if err != nil {
		return res, fmt.Errorf("seed: list products: %w", err)
	}
	haveProduct := make(map[string]bool, len(products))
	for _, p := range products {
		haveProduct[p.Name] = true
	}

	for _, c := range entries {
		id, ok := catIDs[c.Name]
		if !ok {
			created, err := cat.CreateCategory(ctx, model.CategoryInput{Name: c.Name, Description: c.Description})
			if err != nil {
				return res, fmt.Errorf("seed: category %q: %w", c.Name, err)
			}
			id = created.ID
			catIDs[c.Name] = id
			res.Categories++
			log.Printf("seed: created category %s", c.Name)
		}

		for _, p := range c.Products {
			if haveProduct[p.Name] {
				continue
			}
			price, err := decimal.NewFromString(p.Price)
			if err != nil {
				return res, fmt.Errorf("seed: product %q: invalid price %q", p.Name, p.Price)
			}
			categoryID := id
			_, err = cat.CreateProduct(ctx, repository.ProductFields{
				Name:                 p.Name,
				Description:          p.Description,
				Price:                price,
				StockQuantity:        p.Stock,
				CategoryID:           &categoryID,
				RequiresPrescription: p.Rx,
			})
			if err != nil {
				return res, fmt.Errorf("seed: product %q: %w", p.Name, err)
			}
			haveProduct[p.Name] = true
			res.Products++
		}
	}
	log.Printf("seed: created %d categories and %d products", res.Categories, res.Products)
	return res, nil
}
