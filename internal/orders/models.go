package orders

import (
	"time"

	"github.com/ariefcatur/agrimarket/internal/payments"
)

// ShippingAddress is copied onto the order at checkout and never follows
// later edits to the customer's address book.
type ShippingAddress struct {
	FullName string `json:"full_name" validate:"required,max=200"`
	Address  string `json:"address" validate:"required,max=500"`
	City     string `json:"city" validate:"required,max=100"`
	State    string `json:"state" validate:"required,max=100"`
	Zip      string `json:"zip" validate:"required,max=20"`
}

// LineItem carries the unit price as it was at purchase time.
type LineItem struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (li LineItem) TotalCents() int64 {
	return li.UnitPriceCents * int64(li.Quantity)
}

type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

func (t Totals) Consistent() bool {
	return t.TotalCents == t.SubtotalCents+t.ShippingCents+t.TaxCents
}

type Order struct {
	ID              string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Items           []LineItem      `json:"items"`
	Totals                          // flattened into the JSON object
	Status          Status          `json:"status"`
	PaymentStatus   payments.Status `json:"payment_status"`
	PaymentMethod   string          `json:"payment_method"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
	ProcessedBy     *string         `json:"processed_by,omitempty"`
}

func (o *Order) Contains(productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

type StatusChange struct {
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	ChangedBy *string   `json:"changed_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemInput is what a storefront cart submits; prices come from the catalog.
type ItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"required,gt=0,max=2147483647"`
}

type Recipient struct {
	Email string
	Name  string
}

// Delivery reports the outcome of a notification. A failed delivery never
// undoes the order change that triggered it.
type Delivery struct {
	Sent   bool     `json:"sent"`
	Errors []string `json:"errors,omitempty"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	} else if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Normalized applies the default and maximum page size.
func (p Page) Normalized() Page { return p.normalize() }

func (p Page) Offset() int {
	p = p.normalize()
	return (p.Number - 1) * p.Size
}

type AdminFilter struct {
	Status         Status
	IncludeDeleted bool
	Page           Page
}
