package order

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// Line is a single product and quantity within an order.
//
// The original price is captured when the line is created; later price
// changes on the product do not affect it.
type Line struct {
	product    *product.Product
	quantity   int
	original   decimal.Decimal
	discounted decimal.Decimal
}

// NewLine creates a line for quantity units of p priced at p's current price.
// Stock is not checked here.
func NewLine(p *product.Product, quantity int) *Line {
	original := p.Price.Mul(decimal.NewFromInt(int64(quantity)))
	return &Line{
		product:    p,
		quantity:   quantity,
		original:   original,
		discounted: original,
	}
}

// Product returns the referenced product.
func (l *Line) Product() *product.Product { return l.product }

// Quantity returns the number of units on the line.
func (l *Line) Quantity() int { return l.quantity }

// OriginalPrice returns unit price times quantity at line creation.
func (l *Line) OriginalPrice() decimal.Decimal { return l.original }

// DiscountedPrice returns the price after the most recent discount.
func (l *Line) DiscountedPrice() decimal.Decimal { return l.discounted }

// ApplyDiscount recomputes the discounted price from the original price.
// Each call replaces the effect of any previous discount.
func (l *Line) ApplyDiscount(s discount.Strategy) {
	l.discounted = s.Apply(l.original, l.quantity)
}
