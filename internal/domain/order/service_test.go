package order

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]*product.Product, error) {
	out := make([]*product.Product, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []*product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockOrderRepo struct {
	mu      sync.Mutex
	byID    map[string]*Order
	saveErr error
}

func (m *mockOrderRepo) Save(_ context.Context, o *Order) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = make(map[string]*Order)
	}
	m.byID[o.ID] = o
	return nil
}

func (m *mockOrderRepo) FindByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) List(_ context.Context) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Order, 0, len(m.byID))
	for _, o := range m.byID {
		out = append(out, o)
	}
	return out, nil
}

// --- Helpers ---

func newProductRepo(products ...*product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func newTestService(t *testing.T, products *mockProductRepo, rules []discount.Rule, orders Repository) *Service {
	t.Helper()
	reg, err := discount.NewRegistry(rules)
	require.NoError(t, err)

	svc, err := NewService(ServiceConfig{
		MeterProvider:  metricnoop.NewMeterProvider(),
		TracerProvider: tracenoop.NewTracerProvider(),
	}, zap.NewNop(), products, reg, orders)
	require.NoError(t, err)
	return svc
}

// --- Tests ---

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc := newTestService(t, newProductRepo(), nil, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{Payment: payment.Approve()})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPlaceOrder_NoPayment(t *testing.T) {
	svc := newTestService(t, newProductRepo(), nil, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []Item{{ProductID: "p1", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrNoPayment)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	p1 := newTestProduct(t, "p1", "10", 5)
	svc := newTestService(t, newProductRepo(p1), nil, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:   []Item{{ProductID: "p1", Quantity: 0}},
		Payment: payment.Approve(),
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	orders := &mockOrderRepo{}
	svc := newTestService(t, newProductRepo(), nil, orders)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:   []Item{{ProductID: "missing", Quantity: 1}},
		Payment: payment.Approve(),
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
	assert.Empty(t, orders.byID)
}

func TestPlaceOrder_RepoError(t *testing.T) {
	repo := newProductRepo()
	repo.getErr = errors.New("connection refused")
	svc := newTestService(t, repo, nil, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:   []Item{{ProductID: "p1", Quantity: 1}},
		Payment: payment.Approve(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	p1 := newTestProduct(t, "p1", "10", 2)
	svc := newTestService(t, newProductRepo(p1), nil, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:   []Item{{ProductID: "p1", Quantity: 3}},
		Payment: payment.Approve(),
	})

	var isErr *InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, "p1", isErr.ProductID)
	assert.Equal(t, 3, isErr.Requested)
	assert.Equal(t, 2, isErr.Available)
	assert.Equal(t, 2, p1.Stock())
}

func TestPlaceOrder_DuplicateItemsNeverInflateStock(t *testing.T) {
	a := newTestProduct(t, "a", "10", 5)
	orders := &mockOrderRepo{}
	svc := newTestService(t, newProductRepo(a), nil, orders)

	for range 3 {
		_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
			Items:   []Item{{ProductID: "a", Quantity: 3}, {ProductID: "a", Quantity: 3}},
			Payment: payment.Approve(),
		})

		var isErr *InsufficientStockError
		require.ErrorAs(t, err, &isErr)
		assert.Equal(t, 6, isErr.Requested)
		assert.Equal(t, 5, isErr.Available)
		assert.Equal(t, 5, a.Stock())
	}
	assert.Empty(t, orders.byID)
}

func TestPlaceOrder_DuplicateItemsMerged(t *testing.T) {
	a := newTestProduct(t, "a", "10", 10)
	b := newTestProduct(t, "b", "4", 3)
	svc := newTestService(t, newProductRepo(a, b), nil, &mockOrderRepo{})

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []Item{
			{ProductID: "a", Quantity: 3},
			{ProductID: "b", Quantity: 1},
			{ProductID: "a", Quantity: 2},
		},
		Payment: payment.Approve(),
	})
	require.NoError(t, err)

	lines := o.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "a", lines[0].Product().ID)
	assert.Equal(t, 5, lines[0].Quantity())
	assert.Equal(t, "b", lines[1].Product().ID)
	assert.Equal(t, 1, lines[1].Quantity())
	assert.True(t, d("54").Equal(o.Total()), "total: %s", o.Total())
	assert.Equal(t, 5, a.Stock())
	assert.Equal(t, 2, b.Stock())
}

func TestPlaceOrder_DuplicateItemsInvalidQuantity(t *testing.T) {
	a := newTestProduct(t, "a", "10", 10)
	svc := newTestService(t, newProductRepo(a), nil, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:   []Item{{ProductID: "a", Quantity: 3}, {ProductID: "a", Quantity: -3}},
		Payment: payment.Approve(),
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, 10, a.Stock())
}

func TestPlaceOrder_UnknownDiscountCode(t *testing.T) {
	p1 := newTestProduct(t, "p1", "10", 5)
	svc := newTestService(t, newProductRepo(p1), nil, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:         []Item{{ProductID: "p1", Quantity: 1}},
		DiscountCodes: []string{"NOPE"},
		Payment:       payment.Approve(),
	})
	require.ErrorIs(t, err, discount.ErrUnknownCode)
	assert.Equal(t, 5, p1.Stock())
}

func TestPlaceOrder_Success(t *testing.T) {
	p1 := newTestProduct(t, "p1", "10.00", 5)
	p2 := newTestProduct(t, "p2", "20.00", 5)
	orders := &mockOrderRepo{}
	svc := newTestService(t, newProductRepo(p1, p2), []discount.Rule{
		{Code: "SAVE10", Type: discount.TypePercentage, Value: d("10")},
	}, orders)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Customer:      testCustomer,
		Items:         []Item{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		DiscountCodes: []string{"save10"},
		Payment:       payment.Approve(),
	})
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, StatusCompleted, o.Status())
	assert.True(t, d("36").Equal(o.Total()), "total: %s", o.Total())
	assert.Equal(t, 3, p1.Stock())
	assert.Equal(t, 4, p2.Stock())

	stored, err := svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Same(t, o, stored)
}

func TestPlaceOrder_DiscountsAppliedInOrder(t *testing.T) {
	p1 := newTestProduct(t, "p1", "100", 5)
	svc := newTestService(t, newProductRepo(p1), []discount.Rule{
		{Code: "TEN", Type: discount.TypePercentage, Value: d("10")},
		{Code: "BULK", Type: discount.TypeBulk, Value: d("15"), MinQuantity: 1},
	}, &mockOrderRepo{})

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:         []Item{{ProductID: "p1", Quantity: 1}},
		DiscountCodes: []string{"TEN", "BULK"},
		Payment:       payment.Approve(),
	})
	require.NoError(t, err)
	assert.True(t, d("85").Equal(o.Total()), "total: %s", o.Total())
}

func TestPlaceOrder_SaveError(t *testing.T) {
	p1 := newTestProduct(t, "p1", "10", 5)
	svc := newTestService(t, newProductRepo(p1), nil, &mockOrderRepo{saveErr: errors.New("disk full")})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:   []Item{{ProductID: "p1", Quantity: 1}},
		Payment: payment.Approve(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save order")
	assert.Equal(t, 5, p1.Stock())
}

func TestPlaceOrder_DeclinedThenRetried(t *testing.T) {
	p1 := newTestProduct(t, "p1", "10", 5)
	orders := &mockOrderRepo{}
	svc := newTestService(t, newProductRepo(p1), nil, orders)
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		Items:   []Item{{ProductID: "p1", Quantity: 2}},
		Payment: payment.Decline(),
	})
	require.NotNil(t, o)

	var pErr *ProcessError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, o.ID, pErr.OrderID)
	assert.Equal(t, ReasonPaymentDeclined, pErr.Reason)
	assert.Equal(t, StatusCreated, o.Status())
	assert.Equal(t, 5, p1.Stock())

	retried, err := svc.ProcessOrder(ctx, o.ID, payment.Approve())
	require.NoError(t, err)
	assert.Same(t, o, retried)
	assert.Equal(t, StatusCompleted, o.Status())
	assert.Equal(t, 3, p1.Stock())

	_, err = svc.ProcessOrder(ctx, o.ID, payment.Approve())
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, ReasonInvalidStatus, pErr.Reason)
	assert.Equal(t, 3, p1.Stock())
}

func TestProcessOrder_Errors(t *testing.T) {
	svc := newTestService(t, newProductRepo(), nil, &mockOrderRepo{})

	_, err := svc.ProcessOrder(context.Background(), "missing", payment.Approve())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ProcessOrder(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrNoPayment)
}

func TestCancelOrder(t *testing.T) {
	p1 := newTestProduct(t, "p1", "10", 5)
	svc := newTestService(t, newProductRepo(p1), nil, &mockOrderRepo{})
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		Items:   []Item{{ProductID: "p1", Quantity: 4}},
		Payment: payment.Approve(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p1.Stock())

	cancelled, err := svc.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status())
	assert.Equal(t, 5, p1.Stock())

	_, err = svc.CancelOrder(ctx, o.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, 5, p1.Stock())

	_, err = svc.CancelOrder(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelOrder_NotCompleted(t *testing.T) {
	p1 := newTestProduct(t, "p1", "10", 5)
	svc := newTestService(t, newProductRepo(p1), nil, &mockOrderRepo{})
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		Items:   []Item{{ProductID: "p1", Quantity: 1}},
		Payment: payment.Decline(),
	})
	require.Error(t, err)

	_, err = svc.CancelOrder(ctx, o.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, StatusCreated, o.Status())
	assert.Equal(t, 5, p1.Stock())
}

func TestPlaceOrder_Concurrent(t *testing.T) {
	p1 := newTestProduct(t, "p1", "1", 10)
	svc := newTestService(t, newProductRepo(p1), nil, &mockOrderRepo{})

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				Items:   []Item{{ProductID: "p1", Quantity: 1}},
				Payment: payment.Approve(),
			})
			if err == nil {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, completed)
	assert.Equal(t, 0, p1.Stock())

	orders, err := svc.ListOrders(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(orders), completed)
}

func TestNewService_Defaults(t *testing.T) {
	svc, err := NewService(ServiceConfig{}, nil, newProductRepo(), nil, &mockOrderRepo{})
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:         []Item{{ProductID: "p1", Quantity: 1}},
		DiscountCodes: []string{"ANY"},
		Payment:       payment.Approve(),
	})
	require.ErrorIs(t, err, discount.ErrUnknownCode)
}
