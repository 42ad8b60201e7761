// Package memory provides in-process repositories for the live catalog and
// the order history.
package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository keeps placed orders in insertion order.
type OrderRepository struct {
	mu     sync.RWMutex
	byID   map[string]*order.Order
	sorted []*order.Order
}

// NewOrderRepository returns an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{byID: make(map[string]*order.Order)}
}

// Save stores o. Saving an already stored order is a no-op; the stored
// pointer is the live order, so later state changes need no second Save.
func (r *OrderRepository) Save(_ context.Context, o *order.Order) error {
	if o == nil {
		return errors.New("order is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[o.ID]; ok {
		return nil
	}
	r.byID[o.ID] = o
	r.sorted = append(r.sorted, o)
	return nil
}

// FindByID returns the order with the given ID or order.ErrNotFound.
func (r *OrderRepository) FindByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

// List returns all orders in the order they were saved.
func (r *OrderRepository) List(_ context.Context) ([]*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*order.Order, len(r.sorted))
	copy(out, r.sorted)
	return out, nil
}

// Len returns the number of stored orders.
func (r *OrderRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sorted)
}
