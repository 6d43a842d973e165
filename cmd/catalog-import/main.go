// Command catalog-import bulk-loads items from gzip'd JSON-lines files.
//
// Each line is one item: {"name":...,"description":...,"price":...,"currency":...}.
// Invalid lines are logged and skipped. Items whose name is already sold in
// the same currency are skipped too.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/stripe-storefront/internal/repository"
)

func main() {
	var (
		databaseURL string
		workers     int
		expected    uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "files parsed concurrently")
	flag.UintVar(&expected, "expected-items", 1_000_000, "expected catalog size, sizes the duplicate filter")
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
	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("Usage: catalog-import [flags] items1.jsonl.gz [items2.jsonl.gz ...]")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, files, workers, expected); err != nil {
		lg.Fatal("Catalog import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, workers int, expected uint) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	imp := &importer{
		lg:       lg,
		store:    repository.NewItemRepository(pool),
		workers:  workers,
		expected: expected,
	}
	stats, err := imp.Import(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Catalog import completed",
		zap.Int("created", stats.Created),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("invalid", stats.Invalid),
		zap.Int("bloom_hits", stats.BloomHits),
	)
	return nil
}
