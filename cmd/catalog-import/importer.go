package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/stripe-storefront/internal/domain/catalog"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxLineBytes  = 1 << 20
)

type itemStore interface {
	List(ctx context.Context) ([]catalog.Item, error)
	ExistsByKey(ctx context.Context, name string, currency catalog.Currency) (bool, error)
	Create(ctx context.Context, item *catalog.Item) error
}

// Stats summarizes an import run.
type Stats struct {
	Created    int
	Duplicates int
	Invalid    int
	// BloomHits counts items that needed an exact database check.
	BloomHits int
}

type importer struct {
	lg       *zap.Logger
	store    itemStore
	workers  int
	expected uint
}

// Import parses files concurrently and writes new items from a single
// goroutine, which owns the duplicate filter.
func (imp *importer) Import(ctx context.Context, files []string) (Stats, error) {
	filter, err := imp.loadKeys(ctx)
	if err != nil {
		return Stats{}, err
	}

	var (
		stats   Stats
		invalid atomic.Int64
		items   = make(chan catalog.Item, 1024)
	)

	g, ctx := errgroup.WithContext(ctx)

	parsers, pctx := errgroup.WithContext(ctx)
	parsers.SetLimit(max(imp.workers, 1))
	g.Go(func() error {
		defer close(items)
		for _, path := range files {
			parsers.Go(func() error {
				n, err := parseFile(pctx, path, items)
				invalid.Add(int64(n))
				if err != nil {
					return errors.Wrapf(err, "parse %s", path)
				}
				imp.lg.Info("File parsed", zap.String("file", path), zap.Int("invalid", n))
				return nil
			})
		}
		return parsers.Wait()
	})

	g.Go(func() error {
		for item := range items {
			key := itemKey(item.Name, item.Currency)
			if filter.TestString(key) {
				stats.BloomHits++
				exists, err := imp.store.ExistsByKey(ctx, item.Name, item.Currency)
				if err != nil {
					return err
				}
				if exists {
					stats.Duplicates++
					continue
				}
			}
			if err := imp.store.Create(ctx, &item); err != nil {
				return errors.Wrapf(err, "create item %q", item.Name)
			}
			filter.AddString(key)
			stats.Created++
			if stats.Created%progressEvery == 0 {
				imp.lg.Info("Import progress", zap.Int("created", stats.Created))
			}
		}
		return nil
	})

	err = g.Wait()
	stats.Invalid = int(invalid.Load())
	return stats, err
}

func (imp *importer) loadKeys(ctx context.Context) (*bloom.BloomFilter, error) {
	existing, err := imp.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load existing items")
	}
	filter := bloom.NewWithEstimates(max(imp.expected, uint(len(existing))*2, 1024), bloomFPR)
	for _, item := range existing {
		filter.AddString(itemKey(item.Name, item.Currency))
	}
	imp.lg.Info("Existing catalog loaded", zap.Int("items", len(existing)))
	return filter, nil
}

func itemKey(name string, currency catalog.Currency) string {
	return string(currency) + "\x00" + name
}

// parseFile streams a gzip'd JSON-lines file into out and returns the
// number of rejected lines.
func parseFile(ctx context.Context, path string, out chan<- catalog.Item) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var invalid int
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		item, err := decodeLine(line)
		if err == nil {
			err = catalog.Validate(item)
		}
		if err != nil {
			invalid++
			continue
		}
		select {
		case out <- item:
		case <-ctx.Done():
			return invalid, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return invalid, errors.Wrapf(err, "scan %s", path)
	}
	return invalid, nil
}

func decodeLine(line []byte) (catalog.Item, error) {
	var item catalog.Item
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "name":
			item.Name, err = d.Str()
		case "description":
			item.Description, err = d.Str()
		case "price":
			if d.Next() == jx.String {
				var s string
				if s, err = d.Str(); err == nil {
					item.Price, err = decimal.NewFromString(s)
				}
				return err
			}
			var n jx.Num
			if n, err = d.Num(); err == nil {
				item.Price, err = decimal.NewFromString(n.String())
			}
		case "currency":
			var s string
			if s, err = d.Str(); err == nil {
				c, ok := catalog.ParseCurrency(s)
				if !ok {
					c = catalog.Currency(s)
				}
				item.Currency = c
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if item.Currency == "" {
		item.Currency = catalog.DefaultCurrency
	}
	return item, err
}
