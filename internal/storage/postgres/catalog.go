package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/discount"
	"github.com/xenking/kart-orders/internal/domain/product"
)

const (
	listProductsSQL = `SELECT id, name, price, stock, kind, weight, download_link
		FROM products ORDER BY id`

	listDiscountsSQL = `SELECT code, discount_type, value, min_quantity, description
		FROM discounts WHERE active = TRUE ORDER BY code`

	upsertProductSQL = `INSERT INTO products (id, name, price, stock, kind, weight, download_link)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			kind = EXCLUDED.kind,
			weight = EXCLUDED.weight,
			download_link = EXCLUDED.download_link,
			updated_at = now()`

	upsertDiscountSQL = `INSERT INTO discounts (code, discount_type, value, min_quantity, description, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_quantity = EXCLUDED.min_quantity,
			description = EXCLUDED.description,
			active = TRUE`

	setStockSQL = `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`

	knownIDsSQL = `SELECT id FROM products`
)

// Catalog reads and writes catalog rows.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog returns a Catalog that uses the given pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// Products returns all product rows ordered by ID.
func (c *Catalog) Products(ctx context.Context) ([]product.Params, error) {
	rows, err := c.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Discounts returns the active discount rules ordered by code.
func (c *Catalog) Discounts(ctx context.Context) ([]discount.Rule, error) {
	rows, err := c.pool.Query(ctx, listDiscountsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list discounts")
	}
	return pgx.CollectRows(rows, scanDiscount)
}

// UpsertProduct inserts p or replaces the stored row with the same ID.
func (c *Catalog) UpsertProduct(ctx context.Context, p product.Params) error {
	kind := p.Kind
	if kind == "" {
		kind = product.KindPhysical
	}
	_, err := c.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.Stock, string(kind), p.Weight, p.DownloadLink,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

// UpsertDiscount inserts r or replaces the stored rule with the same code.
func (c *Catalog) UpsertDiscount(ctx context.Context, r discount.Rule) error {
	_, err := c.pool.Exec(ctx, upsertDiscountSQL,
		r.Code, string(r.Type), r.Value, r.MinQuantity, r.Description,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert discount %q", r.Code)
	}
	return nil
}

// ProductIDs returns every stored product ID.
func (c *Catalog) ProductIDs(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, knownIDsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list product ids")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SetStock replaces stock for the given product IDs in a single transaction.
// It returns the number of rows updated; unknown IDs are skipped.
func (c *Catalog) SetStock(ctx context.Context, stock map[string]int) (int64, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for id, n := range stock {
		if n < 0 {
			return 0, errors.Wrapf(product.ErrNegativeStock, "product %q", id)
		}
		batch.Queue(setStockSQL, id, n)
	}

	br := tx.SendBatch(ctx, batch)
	var updated int64
	for range stock {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, errors.Wrap(err, "set stock")
		}
		updated += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, errors.Wrap(err, "close batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit transaction")
	}
	return updated, nil
}

// Ping checks database connectivity.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func scanProduct(row pgx.CollectableRow) (product.Params, error) {
	var (
		p      product.Params
		price  decimal.Decimal
		weight decimal.Decimal
		stock  int32
		kind   string
	)
	err := row.Scan(&p.ID, &p.Name, &price, &stock, &kind, &weight, &p.DownloadLink)
	p.Price = price
	p.Weight = weight
	p.Stock = int(stock)
	p.Kind = product.Kind(kind)
	return p, err
}

func scanDiscount(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		r           discount.Rule
		ruleType    string
		value       decimal.Decimal
		minQuantity int32
	)
	err := row.Scan(&r.Code, &ruleType, &value, &minQuantity, &r.Description)
	r.Type = discount.Type(ruleType)
	r.Value = value
	r.MinQuantity = int(minQuantity)
	return r, err
}
