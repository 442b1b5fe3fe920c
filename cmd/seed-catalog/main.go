// Command seed-catalog loads products, margin rules and members from gzip
// JSON-lines files into PostgreSQL.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
	"github.com/xenking/kasir-checkout/internal/storage/postgres"
)

const (
	productsFile = "products.jsonl.gz"
	rulesFile    = "margin_rules.jsonl.gz"
	membersFile  = "members.jsonl.gz"

	maxLine = 1 << 20
)

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing "+productsFile+", "+rulesFile+" and "+membersFile)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("catalog seed completed successfully")
}

type dataset struct {
	products []pricing.Product
	rules    []pricing.MarginRule
	members  []catalog.Member
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	data, err := load(ctx, dataDir)
	if err != nil {
		return err
	}
	slog.Info("catalog parsed",
		slog.Int("products", len(data.products)),
		slog.Int("margin_rules", len(data.rules)),
		slog.Int("members", len(data.members)),
	)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}
	if err := postgres.NewProductRepository(pool).Upsert(ctx, data.products); err != nil {
		return err
	}
	if err := postgres.NewMarginRuleRepository(pool).Replace(ctx, data.rules); err != nil {
		return errors.Wrap(err, "replace margin rules")
	}
	if err := postgres.NewMemberRepository(pool).Upsert(ctx, data.members); err != nil {
		return err
	}
	return nil
}

// load parses the three files concurrently. The members file is optional.
func load(ctx context.Context, dataDir string) (*dataset, error) {
	var data dataset
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return streamGzFile(ctx, filepath.Join(dataDir, productsFile), func(line []byte) error {
			p, err := decodeProduct(line)
			if err != nil {
				return err
			}
			data.products = append(data.products, p)
			return nil
		})
	})
	g.Go(func() error {
		return streamGzFile(ctx, filepath.Join(dataDir, rulesFile), func(line []byte) error {
			r, err := decodeRule(line)
			if err != nil {
				return err
			}
			data.rules = append(data.rules, r)
			return nil
		})
	})
	g.Go(func() error {
		path := filepath.Join(dataDir, membersFile)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			slog.Info("no members file, skipping", slog.String("path", path))
			return nil
		}
		return streamGzFile(ctx, path, func(line []byte) error {
			m, err := decodeMember(line)
			if err != nil {
				return err
			}
			data.members = append(data.members, m)
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &data, nil
}

// streamGzFile calls fn for each non-empty line of a gzip-compressed file.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
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

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return errors.Wrapf(err, "%s:%d", filepath.Base(path), lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return nil
}
