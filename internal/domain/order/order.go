package order

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated   Status = "created"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// FailureReason explains why the last Process call did not take effect.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonEmptyOrder        FailureReason = "empty_order"
	ReasonInvalidStatus     FailureReason = "invalid_status"
	ReasonInsufficientStock FailureReason = "insufficient_stock"
	ReasonPaymentDeclined   FailureReason = "payment_declined"
)

// RollbackPolicy selects which lines are restored when a stock deduction
// fails part way through Process.
type RollbackPolicy int

const (
	// RollbackAllLines restores every line of the order, including lines
	// that were not deducted in the failed attempt. This can over-credit
	// stock for the untouched lines.
	RollbackAllLines RollbackPolicy = iota
	// RollbackDeductedLines restores only the lines deducted in the failed
	// attempt.
	RollbackDeductedLines
)

// ParseRollbackPolicy maps "all" and "deducted" to a RollbackPolicy.
func ParseRollbackPolicy(s string) (RollbackPolicy, bool) {
	switch s {
	case "", "all":
		return RollbackAllLines, true
	case "deducted":
		return RollbackDeductedLines, true
	default:
		return RollbackAllLines, false
	}
}

func (p RollbackPolicy) String() string {
	if p == RollbackDeductedLines {
		return "deducted"
	}
	return "all"
}

// Order aggregates lines for a customer and drives the
// created -> completed -> cancelled lifecycle.
//
// Stock is only touched by Process and Cancel. A failed Process leaves stock
// and status as they were before the call.
type Order struct {
	ID        string
	Customer  customer.Customer
	CreatedAt time.Time

	lg       *zap.Logger
	rollback RollbackPolicy

	mu        sync.Mutex
	lines     []*Line
	status    Status
	reason    FailureReason
	updatedAt time.Time
}

// Option configures an Order.
type Option func(o *Order)

// WithLogger sets the logger receiving order events.
func WithLogger(lg *zap.Logger) Option {
	return func(o *Order) {
		o.lg = lg
	}
}

// WithRollbackPolicy overrides the default RollbackAllLines policy.
func WithRollbackPolicy(p RollbackPolicy) Option {
	return func(o *Order) {
		o.rollback = p
	}
}

// WithID overrides the generated order ID.
func WithID(id string) Option {
	return func(o *Order) {
		o.ID = id
	}
}

// New creates an empty order in the created state.
func New(c customer.Customer, opts ...Option) *Order {
	now := time.Now().UTC()
	o := &Order{
		ID:        uuid.New().String(),
		Customer:  c,
		CreatedAt: now,
		lg:        zap.NewNop(),
		status:    StatusCreated,
		updatedAt: now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.lg == nil {
		o.lg = zap.NewNop()
	}
	o.lg = o.lg.With(zap.String("order_id", o.ID))
	return o
}

// Status returns the current lifecycle state.
func (o *Order) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// FailureReason returns why the last Process call failed, or ReasonNone.
func (o *Order) FailureReason() FailureReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

// UpdatedAt returns the time of the last state change.
func (o *Order) UpdatedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updatedAt
}

// Lines returns a copy of the order lines in insertion order.
func (o *Order) Lines() []*Line {
	o.mu.Lock()
	defer o.mu.Unlock()

	lines := make([]*Line, len(o.lines))
	copy(lines, o.lines)
	return lines
}

// Total returns the sum of discounted line prices rounded to cents.
func (o *Order) Total() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total()
}

func (o *Order) total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.lines {
		sum = sum.Add(l.discounted)
	}
	return sum.Round(2)
}

// AddItem appends a line for quantity units of p. It succeeds only while the
// order is in the created state and p currently has at least quantity units
// in stock. Stock is checked, not reserved.
func (o *Order) AddItem(p *product.Product, quantity int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if p == nil || quantity <= 0 {
		o.lg.Warn("Failed to add item: invalid quantity", zap.Int("quantity", quantity))
		return false
	}
	if o.status != StatusCreated {
		o.lg.Warn("Failed to add item: order is not open",
			zap.String("product", p.Name),
			zap.String("status", string(o.status)),
		)
		return false
	}
	if available := p.Stock(); available < quantity {
		o.lg.Warn("Failed to add item: insufficient stock",
			zap.String("product", p.Name),
			zap.Int("requested", quantity),
			zap.Int("available", available),
		)
		return false
	}

	o.lines = append(o.lines, NewLine(p, quantity))
	o.touch()
	return true
}

// ApplyDiscount applies s to every current line. Each line is recomputed
// from its original price, so a later discount replaces an earlier one.
func (o *Order) ApplyDiscount(s discount.Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, l := range o.lines {
		l.ApplyDiscount(s)
	}
}

// Process deducts stock for every line in order and charges pay for the
// total. On a failed deduction or a declined payment the deducted stock is
// restored and the order stays in the created state, so it can be retried.
// Completed and cancelled orders cannot be processed.
//
// An order with no lines is rejected with ReasonEmptyOrder and pay is never
// called, so a zero-value checkout cannot complete an order.
//
// The order's lock is held while stock is deducted, so out-of-stock listeners
// run under it and must not call back into this order.
func (o *Order) Process(pay payment.Strategy) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != StatusCreated {
		o.lg.Warn("Order processing failed: invalid status", zap.String("status", string(o.status)))
		o.reason = ReasonInvalidStatus
		return false
	}
	if len(o.lines) == 0 {
		o.lg.Warn("Order processing failed: order has no items")
		o.reason = ReasonEmptyOrder
		return false
	}

	for i, l := range o.lines {
		if l.product.DeductStock(l.quantity) {
			continue
		}
		o.lg.Warn("Order processing failed: insufficient stock",
			zap.String("product", l.product.Name),
			zap.Int("requested", l.quantity),
			zap.Int("available", l.product.Stock()),
			zap.Stringer("rollback", o.rollback),
		)
		if o.rollback == RollbackDeductedLines {
			o.restore(o.lines[:i])
		} else {
			o.restore(o.lines)
		}
		o.reason = ReasonInsufficientStock
		return false
	}

	total := o.total()
	if !pay.Process(total) {
		o.lg.Warn("Order processing failed: payment declined", zap.Stringer("amount", total))
		o.restore(o.lines)
		o.reason = ReasonPaymentDeclined
		return false
	}

	o.status = StatusCompleted
	o.reason = ReasonNone
	o.touch()
	o.lg.Info("Order processed",
		zap.String("customer", o.Customer.FullName()),
		zap.Int("lines", len(o.lines)),
		zap.Stringer("total", total),
	)
	return true
}

// Cancel restores stock for every line of a completed order and marks it
// cancelled. It fails for orders in any other state.
func (o *Order) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != StatusCompleted {
		o.lg.Warn("Order cancellation rejected: invalid status", zap.String("status", string(o.status)))
		return false
	}

	o.restore(o.lines)
	o.status = StatusCancelled
	o.touch()
	o.lg.Info("Order cancelled", zap.String("customer", o.Customer.FullName()))
	return true
}

func (o *Order) restore(lines []*Line) {
	for _, l := range lines {
		l.product.RestoreStock(l.quantity)
	}
}

func (o *Order) touch() {
	o.updatedAt = time.Now().UTC()
}

// Repository stores orders after they are placed. Orders are never deleted.
type Repository interface {
	Save(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context) ([]*Order, error)
}
