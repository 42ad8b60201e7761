// Package stockingest merges warehouse stock reports into per-product stock
// levels.
//
// Each warehouse shard is a gzip-compressed JSON Lines file with one
// {"sku": "...", "quantity": N} record per line. Shards are scanned
// concurrently. Quantities for the same SKU are summed across shards.
package stockingest

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	maxShards     = bits.UintSize
)

// Record is a single stock report line.
type Record struct {
	SKU      string
	Quantity int
}

// Options configures Merge.
type Options struct {
	// Known lists the SKUs present in the catalog. Records for other SKUs
	// are counted as unknown and dropped. Empty means accept every SKU.
	Known []string
	// MinShards drops SKUs reported by fewer shards. Values below 1 mean 1.
	MinShards int
}

// Result is the merged stock.
type Result struct {
	Stock    map[string]int
	Lines    uint64
	Unknown  uint64
	Rejected int
}

type shardResult struct {
	stock   map[string]int
	lines   uint64
	unknown uint64
}

// Merge scans shards concurrently and sums quantities per SKU.
func Merge(ctx context.Context, lg *zap.Logger, shards []string, opts Options) (*Result, error) {
	if len(shards) == 0 {
		return nil, errors.New("no shards to merge")
	}
	if len(shards) > maxShards {
		return nil, errors.Errorf("too many shards: %d > %d", len(shards), maxShards)
	}

	known := newKnownSet(opts.Known)
	results := make([]shardResult, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range shards {
		g.Go(func() error {
			r, err := scanShard(gctx, lg, i, path, known)
			if err != nil {
				return errors.Wrapf(err, "shard %d", i+1)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Stock: make(map[string]int)}
	masks := make(map[string]uint)
	for i, r := range results {
		res.Lines += r.lines
		res.Unknown += r.unknown
		for sku, qty := range r.stock {
			res.Stock[sku] += qty
			masks[sku] |= 1 << uint(i)
		}
	}

	minShards := max(opts.MinShards, 1)
	for sku, mask := range masks {
		if bits.OnesCount(mask) < minShards {
			delete(res.Stock, sku)
			res.Rejected++
		}
	}

	lg.Info("Stock merged",
		zap.Int("shards", len(shards)),
		zap.Uint64("lines", res.Lines),
		zap.Int("skus", len(res.Stock)),
		zap.Uint64("unknown", res.Unknown),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

// knownSet answers SKU membership with a bloom filter in front of an exact
// set. Most unknown SKUs are rejected by the filter alone.
type knownSet struct {
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

func newKnownSet(skus []string) *knownSet {
	if len(skus) == 0 {
		return nil
	}
	s := &knownSet{
		filter: bloom.NewWithEstimates(uint(len(skus)), bloomFPR),
		exact:  make(map[string]struct{}, len(skus)),
	}
	for _, sku := range skus {
		s.filter.AddString(sku)
		s.exact[sku] = struct{}{}
	}
	return s
}

func (s *knownSet) has(sku string) bool {
	if s == nil {
		return true
	}
	if !s.filter.TestString(sku) {
		return false
	}
	_, ok := s.exact[sku]
	return ok
}

func scanShard(ctx context.Context, lg *zap.Logger, idx int, path string, known *knownSet) (shardResult, error) {
	r := shardResult{stock: make(map[string]int)}
	err := ReadShard(ctx, path, func(rec Record) error {
		r.lines++
		if r.lines%progressEvery == 0 {
			lg.Info("Shard progress", zap.Int("shard", idx+1), zap.Uint64("lines", r.lines))
		}
		if !known.has(rec.SKU) {
			r.unknown++
			return nil
		}
		r.stock[rec.SKU] += rec.Quantity
		return nil
	})
	if err != nil {
		return shardResult{}, err
	}

	lg.Info("Shard complete",
		zap.Int("shard", idx+1),
		zap.String("path", path),
		zap.Uint64("lines", r.lines),
		zap.Int("skus", len(r.stock)),
	)
	return r, nil
}

var scanBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64*1024)
		return &b
	},
}

// ReadShard streams a gzip-compressed JSON Lines shard and calls fn for each
// record. Blank lines are skipped. Negative quantities and missing SKUs are
// errors.
func ReadShard(ctx context.Context, path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	buf := scanBufPool.Get().(*[]byte)
	defer scanBufPool.Put(buf)

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(*buf, 1<<20)

	var line int
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return errors.Wrapf(err, "%s:%d", path, line)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "sku":
			rec.SKU, err = d.Str()
		case "quantity":
			rec.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "decode record")
	}
	if rec.SKU == "" {
		return Record{}, errors.New("sku is required")
	}
	if rec.Quantity < 0 {
		return Record{}, errors.Errorf("negative quantity %d for %s", rec.Quantity, rec.SKU)
	}
	return rec, nil
}
