package memory

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/product"
)

var _ product.Repository = (*CatalogRepository)(nil)

// CatalogRepository holds the live products that orders deduct stock from.
// Products are created once and shared by every order referencing them.
type CatalogRepository struct {
	byID  map[string]*product.Product
	order []string
}

// NewCatalogRepository builds products from params. Every product gets the
// given options, typically a logger and stock listeners.
func NewCatalogRepository(params []product.Params, opts ...product.Option) (*CatalogRepository, error) {
	r := &CatalogRepository{byID: make(map[string]*product.Product, len(params))}
	for _, pp := range params {
		if pp.ID == "" {
			return nil, errors.Errorf("product %q: id is required", pp.Name)
		}
		if _, dup := r.byID[pp.ID]; dup {
			return nil, errors.Errorf("duplicate product id %q", pp.ID)
		}
		p, err := product.New(pp, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "product %s", pp.ID)
		}
		r.byID[pp.ID] = p
		r.order = append(r.order, pp.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

// List returns every product ordered by ID.
func (r *CatalogRepository) List(_ context.Context) ([]*product.Product, error) {
	out := make([]*product.Product, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out, nil
}

// GetByID returns a product or product.ErrNotFound.
func (r *CatalogRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

// GetByIDs returns the products matching ids. Unknown IDs are skipped and
// duplicates are returned once.
func (r *CatalogRepository) GetByIDs(_ context.Context, ids []string) ([]*product.Product, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]*product.Product, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Len returns the number of products.
func (r *CatalogRepository) Len() int { return len(r.order) }

// Log writes a one-line description of every product.
func (r *CatalogRepository) Log(lg *zap.Logger) {
	for _, id := range r.order {
		lg.Info("Catalog product", zap.String("id", id), zap.String("description", r.byID[id].Describe()))
	}
}
