package orders

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/agrimarket/internal/apperr"
)

// MaxQuantity matches the INT quantity column.
const MaxQuantity = math.MaxInt32

// ReconcileToleranceCents bounds how far a caller-supplied total may sit from
// the computed one (one currency unit).
const ReconcileToleranceCents int64 = 100

type Pricing struct {
	ShippingFlatCents int64
	TaxRate           decimal.Decimal
}

func DefaultPricing() Pricing {
	return Pricing{ShippingFlatCents: 500, TaxRate: decimal.RequireFromString("0.05")}
}

func NewPricing(shippingFlatCents int64, taxRate string) (Pricing, error) {
	rate, err := decimal.NewFromString(taxRate)
	if err != nil {
		return Pricing{}, fmt.Errorf("tax rate %q: %w", taxRate, err)
	}
	if rate.IsNegative() || shippingFlatCents < 0 {
		return Pricing{}, fmt.Errorf("shipping and tax rate must not be negative")
	}
	return Pricing{ShippingFlatCents: shippingFlatCents, TaxRate: rate}, nil
}

func ValidateItems(items []LineItem) error {
	if len(items) == 0 {
		return apperr.Validation("order needs at least one line item")
	}
	for _, it := range items {
		if it.ProductID == "" {
			return apperr.Validation("line item without product")
		}
		if it.Quantity <= 0 || it.Quantity > MaxQuantity {
			return apperr.Validation("quantity for product %s must be between 1 and %d", it.ProductID, MaxQuantity)
		}
		if it.UnitPriceCents <= 0 {
			return apperr.Validation("unit price for product %s must be positive", it.ProductID)
		}
	}
	return nil
}

// MergeItems folds repeated products into one line, keeping the position of
// the first occurrence. A product listed at two different prices is
// rejected.
func MergeItems(items []LineItem) ([]LineItem, error) {
	if err := ValidateItems(items); err != nil {
		return nil, err
	}
	out := make([]LineItem, 0, len(items))
	at := make(map[string]int, len(items))
	for _, it := range items {
		i, seen := at[it.ProductID]
		if !seen {
			at[it.ProductID] = len(out)
			out = append(out, it)
			continue
		}
		if out[i].UnitPriceCents != it.UnitPriceCents {
			return nil, apperr.Validation("product %s appears with two prices", it.ProductID)
		}
		out[i].Quantity += it.Quantity
	}
	return out, ValidateItems(out)
}

// Quote derives totals from the line items: flat shipping and tax on the
// subtotal, rounded half away from zero to the cent. Amounts that do not
// fit in int64 cents are rejected.
func (p Pricing) Quote(items []LineItem) (Totals, error) {
	if err := ValidateItems(items); err != nil {
		return Totals{}, err
	}
	var subtotal int64
	for _, it := range items {
		qty := int64(it.Quantity)
		if it.UnitPriceCents > (math.MaxInt64-subtotal)/qty {
			return Totals{}, apperr.Validation("order amount is too large")
		}
		subtotal += it.UnitPriceCents * qty
	}
	taxAmount := decimal.NewFromInt(subtotal).Mul(p.TaxRate).Round(0)
	if taxAmount.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return Totals{}, apperr.Validation("order amount is too large")
	}
	t := Totals{
		SubtotalCents: subtotal,
		ShippingCents: p.ShippingFlatCents,
		TaxCents:      taxAmount.IntPart(),
	}
	total, ok := addCents(t.SubtotalCents, t.ShippingCents)
	if ok {
		total, ok = addCents(total, t.TaxCents)
	}
	if !ok {
		return Totals{}, apperr.Validation("order amount is too large")
	}
	t.TotalCents = total
	return t, nil
}

func addCents(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// QuoteExpecting quotes items and, when expected is set, reconciles the
// result to that total. The gap must be within ReconcileToleranceCents and is
// absorbed by shipping first, then tax. The subtotal never moves.
func (p Pricing) QuoteExpecting(items []LineItem, expected *int64) (Totals, error) {
	t, err := p.Quote(items)
	if err != nil || expected == nil {
		return t, err
	}
	if *expected < 0 {
		return Totals{}, apperr.Validation("total must not be negative")
	}
	diff := *expected - t.TotalCents
	if diff > ReconcileToleranceCents || diff < -ReconcileToleranceCents {
		return Totals{}, apperr.Validation("total %s does not match line items (%s)",
			FormatCents(*expected), FormatCents(t.TotalCents))
	}
	r, ok := reconcile(t, *expected)
	if !ok {
		return Totals{}, apperr.Validation("total %s cannot be reconciled without changing the subtotal",
			FormatCents(*expected))
	}
	return r, nil
}

func reconcile(t Totals, target int64) (Totals, bool) {
	diff := target - (t.SubtotalCents + t.ShippingCents + t.TaxCents)
	t.ShippingCents += diff
	if t.ShippingCents < 0 {
		t.TaxCents += t.ShippingCents
		t.ShippingCents = 0
	}
	if t.TaxCents < 0 {
		return Totals{}, false
	}
	t.TotalCents = target
	return t, true
}

// FormatCents renders cents as a two-decimal amount, e.g. 2282 -> "22.82".
func FormatCents(c int64) string {
	return decimal.New(c, -2).StringFixed(2)
}
