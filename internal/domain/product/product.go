package product

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Sentinel errors for product construction.
var (
	ErrNegativeStock = errors.New("stock must be zero or greater")
	ErrNegativePrice = errors.New("price must be zero or greater")
)

// Kind tags the product variant.
type Kind string

const (
	// KindPhysical is a shippable product with a weight.
	KindPhysical Kind = "physical"
	// KindDigital is a downloadable product with a download link.
	KindDigital Kind = "digital"
)

// Params holds the catalog attributes a Product is built from.
type Params struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
	Kind  Kind

	// Weight is set for physical products, in kilograms.
	Weight decimal.Decimal
	// DownloadLink is set for digital products.
	DownloadLink string
}

// StockListener is notified when a deduction depletes a product's stock.
//
// OnOutOfStock runs synchronously on the deducting goroutine after the
// product's own lock is released, so it may read the product. Callers such as
// Order.Process still hold their own locks at that point: a listener must not
// call back into the order whose processing triggered it.
type StockListener interface {
	OnOutOfStock(productName string)
}

// ListenerFunc adapts a function to StockListener.
type ListenerFunc func(productName string)

// OnOutOfStock calls f(productName).
func (f ListenerFunc) OnOutOfStock(productName string) { f(productName) }

// LogListener returns a StockListener that logs out-of-stock alerts.
func LogListener(lg *zap.Logger) StockListener {
	return ListenerFunc(func(name string) {
		lg.Warn("Product out of stock", zap.String("product", name))
	})
}

// Product represents a catalog item with live stock.
//
// Stock changes only through DeductStock and RestoreStock and never goes
// below zero.
type Product struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	Kind         Kind
	Weight       decimal.Decimal
	DownloadLink string

	lg *zap.Logger

	mu        sync.Mutex
	stock     int
	listeners []StockListener
}

// Option configures a Product.
type Option func(p *Product)

// WithLogger sets the logger used for stock events.
func WithLogger(lg *zap.Logger) Option {
	return func(p *Product) {
		p.lg = lg
	}
}

// WithListener registers an out-of-stock listener at construction time.
func WithListener(l StockListener) Option {
	return func(p *Product) {
		p.listeners = append(p.listeners, l)
	}
}

// New creates a Product from params. Unknown kinds default to physical.
func New(params Params, opts ...Option) (*Product, error) {
	if params.Stock < 0 {
		return nil, ErrNegativeStock
	}
	if params.Price.IsNegative() {
		return nil, ErrNegativePrice
	}

	kind := params.Kind
	if kind != KindDigital {
		kind = KindPhysical
	}

	p := &Product{
		ID:           params.ID,
		Name:         params.Name,
		Price:        params.Price,
		Kind:         kind,
		Weight:       params.Weight,
		DownloadLink: params.DownloadLink,
		lg:           zap.NewNop(),
		stock:        params.Stock,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AddListener registers l. Listeners are notified in registration order.
func (p *Product) AddListener(l StockListener) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.listeners = append(p.listeners, l)
}

// Stock returns the current stock quantity.
func (p *Product) Stock() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stock
}

// DeductStock removes quantity units from stock. It reports false and leaves
// stock untouched when quantity is negative or exceeds the current stock.
//
// When a positive deduction empties the stock, every listener is notified
// before DeductStock returns.
func (p *Product) DeductStock(quantity int) bool {
	p.mu.Lock()
	if quantity < 0 || quantity > p.stock {
		p.mu.Unlock()
		return false
	}
	p.stock -= quantity
	depleted := quantity > 0 && p.stock == 0
	var listeners []StockListener
	if depleted {
		listeners = make([]StockListener, len(p.listeners))
		copy(listeners, p.listeners)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l.OnOutOfStock(p.Name)
	}
	return true
}

// RestoreStock returns quantity units to stock. There is no upper bound.
// Negative quantities are ignored.
func (p *Product) RestoreStock(quantity int) {
	if quantity < 0 {
		p.lg.Warn("Ignoring negative stock restore",
			zap.String("product", p.Name),
			zap.Int("quantity", quantity),
		)
		return
	}

	p.mu.Lock()
	p.stock += quantity
	stock := p.stock
	p.mu.Unlock()

	p.lg.Info("Stock restored",
		zap.String("product", p.Name),
		zap.Int("quantity", quantity),
		zap.Int("stock", stock),
	)
}

// Describe returns a human-readable summary dispatched on the product kind.
func (p *Product) Describe() string {
	switch p.Kind {
	case KindDigital:
		return fmt.Sprintf("%s (digital) - $%s, download: %s, stock: %d",
			p.Name, p.Price.StringFixed(2), p.DownloadLink, p.Stock())
	default:
		return fmt.Sprintf("%s (physical) - $%s, weight: %skg, stock: %d",
			p.Name, p.Price.StringFixed(2), p.Weight.String(), p.Stock())
	}
}

// Repository defines read operations for the live product catalog.
type Repository interface {
	List(ctx context.Context) ([]*Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]*Product, error)
}
