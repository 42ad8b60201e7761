package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/db"
	"github.com/xenking/kart-orders/internal/storage/jsonfile"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to catalog JSON file (defaults to the embedded seed catalog)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile string) error {
	c, err := readCatalog(lg, catalogFile)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalog := postgres.NewCatalog(pool)

	lg.Info("Upserting products", zap.Int("count", len(c.Products)))
	for _, p := range c.Products {
		if err := catalog.UpsertProduct(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}

	lg.Info("Upserting discounts", zap.Int("count", len(c.Discounts)))
	for _, r := range c.Discounts {
		if err := catalog.UpsertDiscount(ctx, r); err != nil {
			return errors.Wrapf(err, "upsert discount %s", r.Code)
		}
		lg.Debug("Upserted discount", zap.String("code", r.Code), zap.String("description", r.Description))
	}

	return nil
}

func readCatalog(lg *zap.Logger, path string) (*jsonfile.Catalog, error) {
	var r io.Reader = bytes.NewReader(db.SeedCatalog)
	if path != "" {
		lg.Info("Reading catalog file", zap.String("path", path))
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open catalog file")
		}
		defer func() { _ = f.Close() }()
		r = f
	} else {
		lg.Info("Using embedded seed catalog")
	}

	c, err := jsonfile.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	return c, nil
}
