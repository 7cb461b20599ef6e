// Package catalog serves storefront product listings and snapshots prices
// at checkout.
package catalog

import (
	"context"
	"time"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/orders"
	"github.com/ariefcatur/agrimarket/internal/postgres"
)

type Product struct {
	ID         string    `json:"product_id"`
	VendorID   *string   `json:"vendor_id,omitempty"`
	Name       string    `json:"name"`
	Unit       string    `json:"unit"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Repo struct{ DB postgres.Querier }

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, vendor_id, name, unit, price_cents, stock, updated_at
		FROM products
		WHERE active
		ORDER BY name, product_id`)
	if err != nil {
		return nil, apperr.Persistence(err, "list products")
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.VendorID, &p.Name, &p.Unit, &p.PriceCents, &p.Stock, &p.UpdatedAt); err != nil {
			return nil, apperr.Persistence(err, "scan product")
		}
		out = append(out, p)
	}
	return out, apperr.Persistence(rows.Err(), "read products")
}

// PriceItems turns a cart into line items carrying the current catalog
// price. Repeated products are merged; the cart order is kept.
func (r *Repo) PriceItems(ctx context.Context, items []orders.ItemInput) ([]orders.LineItem, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("cart is empty")
	}
	qty := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, apperr.Validation("cart item without product")
		}
		if it.Qty <= 0 {
			return nil, apperr.Validation("quantity for product %s must be positive", it.ProductID)
		}
		if _, seen := qty[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		qty[it.ProductID] += it.Qty
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, price_cents
		FROM products
		WHERE product_id = ANY($1) AND active`, ids)
	if err != nil {
		return nil, apperr.Persistence(err, "price cart")
	}
	defer rows.Close()

	prices := make(map[string]int64, len(ids))
	for rows.Next() {
		var (
			id    string
			price int64
		)
		if err := rows.Scan(&id, &price); err != nil {
			return nil, apperr.Persistence(err, "scan price")
		}
		prices[id] = price
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(err, "read prices")
	}

	out := make([]orders.LineItem, 0, len(ids))
	for _, id := range ids {
		price, ok := prices[id]
		if !ok {
			return nil, apperr.NotFound("product %s not found", id)
		}
		out = append(out, orders.LineItem{ProductID: id, Quantity: qty[id], UnitPriceCents: price})
	}
	return out, nil
}
