package discount

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Strategy computes the discounted price of a line from its original price
// and quantity. Implementations are pure and never return a negative price.
type Strategy interface {
	Apply(originalPrice decimal.Decimal, quantity int) decimal.Decimal
}

// Func adapts a function to Strategy. Negative results are floored at zero.
type Func func(originalPrice decimal.Decimal, quantity int) decimal.Decimal

// Apply calls f and floors the result at zero.
func (f Func) Apply(originalPrice decimal.Decimal, quantity int) decimal.Decimal {
	return floorAtZero(f(originalPrice, quantity))
}

// Fixed subtracts a flat amount per unit.
type Fixed struct {
	amount decimal.Decimal
}

// NewFixed returns a Fixed discount of amount per unit. Negative amounts are
// treated as zero.
func NewFixed(amount decimal.Decimal) Fixed {
	return Fixed{amount: floorAtZero(amount)}
}

// Apply returns originalPrice - amount*quantity, floored at zero.
func (d Fixed) Apply(originalPrice decimal.Decimal, quantity int) decimal.Decimal {
	off := d.amount.Mul(decimal.NewFromInt(int64(quantity)))
	return floorAtZero(originalPrice.Sub(off))
}

// Percentage reduces the price by a percentage.
type Percentage struct {
	pct decimal.Decimal
}

// NewPercentage returns a Percentage discount. pct is clamped to [0, 100].
func NewPercentage(pct decimal.Decimal) Percentage {
	return Percentage{pct: clampPercent(pct)}
}

// Apply returns originalPrice * (1 - pct/100).
func (d Percentage) Apply(originalPrice decimal.Decimal, _ int) decimal.Decimal {
	return floorAtZero(reduce(originalPrice, d.pct))
}

// Bulk reduces the price by a percentage once the quantity reaches a
// threshold.
type Bulk struct {
	minQuantity int
	pct         decimal.Decimal
}

// NewBulk returns a Bulk discount. minQuantity is raised to at least 1 and
// pct is clamped to [0, 100].
func NewBulk(minQuantity int, pct decimal.Decimal) Bulk {
	return Bulk{
		minQuantity: max(minQuantity, 1),
		pct:         clampPercent(pct),
	}
}

// Apply returns the reduced price when quantity >= minQuantity and
// originalPrice unchanged otherwise.
func (d Bulk) Apply(originalPrice decimal.Decimal, quantity int) decimal.Decimal {
	if quantity < d.minQuantity {
		return floorAtZero(originalPrice)
	}
	return floorAtZero(reduce(originalPrice, d.pct))
}

func reduce(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(pct)).Div(hundred)
}

// clampPercent limits pct to the [0, 100] range.
func clampPercent(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
