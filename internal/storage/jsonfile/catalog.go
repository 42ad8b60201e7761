// Package jsonfile loads the product catalog and discount rules from a JSON
// document.
package jsonfile

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/product"
)

type productJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	Kind         string          `json:"kind"`
	Weight       decimal.Decimal `json:"weight"`
	DownloadLink string          `json:"downloadLink"`
}

type discountJSON struct {
	Code        string          `json:"code"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	MinQuantity int             `json:"minQuantity"`
	Description string          `json:"description"`
}

type catalogJSON struct {
	Products  []productJSON  `json:"products"`
	Discounts []discountJSON `json:"discounts"`
}

// Catalog is a decoded catalog document.
type Catalog struct {
	Products  []product.Params
	Discounts []discount.Rule
}

// Source reads a catalog document from a file path. The file is decoded on
// the first successful call and every later call sees that same document, so
// Products and Discounts always describe one version of the file.
type Source struct {
	path string

	mu      sync.Mutex
	catalog *Catalog
}

// NewSource returns a Source for path. Nothing is read until the first call.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Products returns the product params from the file.
func (s *Source) Products(ctx context.Context) ([]product.Params, error) {
	c, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return c.Products, nil
}

// Discounts returns the discount rules from the file.
func (s *Source) Discounts(ctx context.Context) ([]discount.Rule, error) {
	c, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return c.Discounts, nil
}

func (s *Source) load(ctx context.Context) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog != nil {
		return s.catalog, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()

	c, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", s.path)
	}
	s.catalog = c
	return c, nil
}

// Decode parses a catalog document. Unknown fields are rejected.
func Decode(r io.Reader) (*Catalog, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var raw catalogJSON
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}

	c := &Catalog{
		Products:  make([]product.Params, 0, len(raw.Products)),
		Discounts: make([]discount.Rule, 0, len(raw.Discounts)),
	}
	for i, p := range raw.Products {
		if p.ID == "" {
			return nil, errors.Errorf("product #%d: id is required", i)
		}
		kind := product.Kind(p.Kind)
		switch kind {
		case "", product.KindPhysical, product.KindDigital:
		default:
			return nil, errors.Errorf("product %s: unknown kind %q", p.ID, p.Kind)
		}
		c.Products = append(c.Products, product.Params{
			ID:           p.ID,
			Name:         p.Name,
			Price:        p.Price,
			Stock:        p.Stock,
			Kind:         kind,
			Weight:       p.Weight,
			DownloadLink: p.DownloadLink,
		})
	}
	for _, d := range raw.Discounts {
		c.Discounts = append(c.Discounts, discount.Rule{
			Code:        d.Code,
			Type:        discount.Type(d.Type),
			Value:       d.Value,
			MinQuantity: d.MinQuantity,
			Description: d.Description,
		})
	}
	return c, nil
}
