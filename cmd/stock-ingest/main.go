package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/stockingest"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		dataDir     string
		pattern     string
		minShards   int
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing warehouse stock shards")
	flag.StringVar(&pattern, "pattern", "*.jsonl.gz", "glob pattern for shard files inside data-dir")
	flag.IntVar(&minShards, "min-shards", 1, "drop SKUs reported by fewer shards")
	flag.BoolVar(&dryRun, "dry-run", false, "merge shards but do not write stock")
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

	if err := run(ctx, lg, databaseURL, dataDir, pattern, minShards, dryRun); err != nil {
		lg.Fatal("Stock ingest failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, dataDir, pattern string, minShards int, dryRun bool) error {
	start := time.Now()

	shards, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "glob shards")
	}
	if len(shards) == 0 {
		return errors.Errorf("no shards matching %q in %s", pattern, dataDir)
	}
	sort.Strings(shards)
	lg.Info("Found shards", zap.Int("count", len(shards)), zap.String("dir", dataDir))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	catalog := postgres.NewCatalog(pool)
	known, err := catalog.ProductIDs(ctx)
	if err != nil {
		return errors.Wrap(err, "list product ids")
	}
	lg.Info("Loaded catalog", zap.Int("products", len(known)))

	res, err := stockingest.Merge(ctx, lg, shards, stockingest.Options{
		Known:     known,
		MinShards: minShards,
	})
	if err != nil {
		return errors.Wrap(err, "merge shards")
	}

	if dryRun {
		lg.Info("Dry run, skipping write", zap.Int("skus", len(res.Stock)))
		return nil
	}

	updated, err := catalog.SetStock(ctx, res.Stock)
	if err != nil {
		return errors.Wrap(err, "write stock")
	}

	lg.Info("Stock ingest complete",
		zap.Int64("updated", updated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
