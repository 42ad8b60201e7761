package order

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/product"
)

const instrumentationName = "github.com/xenking/kart-orders/internal/domain/order"

// Sentinel errors for order placement.
var (
	ErrNotFound      = errors.New("order not found")
	ErrEmptyItems    = errors.New("items required")
	ErrNoPayment     = errors.New("payment method required")
	ErrInvalidStatus = errors.New("invalid order status")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InsufficientStockError indicates a product did not have enough stock when
// the item was added.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ProcessError reports a Process call that did not take effect. The order is
// still stored and can be retried unless Reason is ReasonInvalidStatus.
type ProcessError struct {
	OrderID string
	Reason  FailureReason
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("order %s not processed: %s", e.OrderID, e.Reason)
}

// Item is a requested product and quantity.
type Item struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Customer      customer.Customer
	Items         []Item
	DiscountCodes []string
	Payment       payment.Strategy
}

// ServiceConfig holds non-dependency configuration for the Service. Nil
// providers fall back to the otel globals.
type ServiceConfig struct {
	Rollback       RollbackPolicy
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service coordinates the catalog, discount rules and order history around
// the Order state machine.
//
// Process and Cancel run under a single checkout lock so concurrent orders
// never interleave stock deductions on shared products.
type Service struct {
	products  product.Repository
	discounts *discount.Registry
	orders    Repository
	lg        *zap.Logger
	rollback  RollbackPolicy

	checkout sync.Mutex

	tracer    trace.Tracer
	processed metric.Int64Counter
	cancelled metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	cfg ServiceConfig,
	lg *zap.Logger,
	products product.Repository,
	discounts *discount.Registry,
	orders Repository,
) (*Service, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if discounts == nil {
		discounts = &discount.Registry{}
	}
	if lg == nil {
		lg = zap.NewNop()
	}

	meter := cfg.MeterProvider.Meter(instrumentationName)
	processed, err := meter.Int64Counter("kart.orders.processed",
		metric.WithDescription("Order processing attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "processed counter")
	}
	cancelled, err := meter.Int64Counter("kart.orders.cancelled",
		metric.WithDescription("Cancelled orders"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cancelled counter")
	}

	return &Service{
		products:  products,
		discounts: discounts,
		orders:    orders,
		lg:        lg,
		rollback:  cfg.Rollback,
		tracer:    cfg.TracerProvider.Tracer(instrumentationName),
		processed: processed,
		cancelled: cancelled,
	}, nil
}

// PlaceOrder validates items, builds an order from live catalog products,
// applies discount codes in request order, stores the order and processes it.
//
// When processing fails the stored order stays in the created state and a
// *ProcessError is returned alongside it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.Payment == nil {
		return nil, ErrNoPayment
	}

	items, err := mergeItems(req.Items)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	// Resolve discounts before touching the order so unknown codes fail fast.
	strategies := make([]discount.Strategy, 0, len(req.DiscountCodes))
	for _, code := range req.DiscountCodes {
		st, err := s.discounts.Resolve(code)
		if err != nil {
			return nil, errors.Wrapf(err, "discount %q", code)
		}
		strategies = append(strategies, st)
	}

	o := New(req.Customer,
		WithLogger(s.lg),
		WithRollbackPolicy(s.rollback),
	)
	span.SetAttributes(attribute.String("order.id", o.ID))

	for _, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if !o.AddItem(p, item.Quantity) {
			return nil, &InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: p.Stock(),
			}
		}
	}
	for _, st := range strategies {
		o.ApplyDiscount(st)
	}

	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save order")
	}

	if err := s.process(ctx, o, req.Payment); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return o, err
	}
	return o, nil
}

// mergeItems validates quantities and folds repeated product IDs into one
// item with the summed quantity, keeping first-occurrence order. One line per
// product keeps the stock check in AddItem and the rollback in Process exact.
func mergeItems(items []Item) ([]Item, error) {
	merged := make([]Item, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

// ProcessOrder retries processing of a stored order with another payment.
func (s *Service) ProcessOrder(ctx context.Context, id string, pay payment.Strategy) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.ProcessOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if pay == nil {
		return nil, ErrNoPayment
	}
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.process(ctx, o, pay); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return o, err
	}
	return o, nil
}

func (s *Service) process(ctx context.Context, o *Order, pay payment.Strategy) error {
	s.checkout.Lock()
	ok := o.Process(pay)
	reason := o.FailureReason()
	s.checkout.Unlock()

	result := "completed"
	if !ok {
		result = string(reason)
	}
	s.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	if !ok {
		return &ProcessError{OrderID: o.ID, Reason: reason}
	}
	return nil
}

// CancelOrder cancels a completed order and restores its stock.
func (s *Service) CancelOrder(ctx context.Context, id string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CancelOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.checkout.Lock()
	ok := o.Cancel()
	s.checkout.Unlock()

	if !ok {
		return o, errors.Wrapf(ErrInvalidStatus, "cancel order %s in status %s", o.ID, o.Status())
	}
	s.cancelled.Add(ctx, 1)
	return o, nil
}

// GetOrder returns a stored order by ID.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.orders.FindByID(ctx, id)
}

// ListOrders returns the order history.
func (s *Service) ListOrders(ctx context.Context) ([]*Order, error) {
	return s.orders.List(ctx)
}
