package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/tax"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	batchSize     = 500
	progressEvery = 100_000
)

// columns is the expected CSV header. Categories are separated by '|'.
var columns = []string{"id", "name", "country", "region", "postal_code", "categories", "rate", "priority", "status"}

func main() {
	var (
		dataDir     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data/taxrates", "directory containing *.csv.gz rate tables")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, dryRun); err != nil {
		slog.Error("tax rate ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("tax rate ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list rate tables")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}
	slices.Sort(files)

	slog.Info("parsing rate tables", slog.Int("files", len(files)))

	tables, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse rate tables")
	}

	rates, dups := dedupe(tables)
	slog.Info("rates deduplicated",
		slog.Int("unique", len(rates)),
		slog.Int("duplicates", dups),
	)

	if dryRun || len(rates) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeRates(ctx, postgres.NewTaxRateRepository(pool), rates); err != nil {
		return errors.Wrap(err, "write rates to database")
	}

	return nil
}

// parseFiles parses every file concurrently. The result keeps file order.
func parseFiles(ctx context.Context, files []string) ([][]tax.Rate, error) {
	tables := make([][]tax.Rate, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			rates, err := parseGzFile(ctx, f)
			if err != nil {
				return errors.Wrapf(err, "parse %s", filepath.Base(f))
			}
			slog.Info("parsed rate table",
				slog.String("file", filepath.Base(f)),
				slog.Int("rates", len(rates)),
			)
			tables[i] = rates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return tables, nil
}

func parseGzFile(ctx context.Context, path string) ([]tax.Rate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return parseCSV(ctx, gz)
}

// parseCSV reads a rate table with a header row matching columns.
func parseCSV(ctx context.Context, r io.Reader) ([]tax.Rate, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(columns)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	for i, c := range columns {
		if strings.TrimSpace(strings.ToLower(header[i])) != c {
			return nil, errors.Errorf("column %d is %q, want %q", i+1, header[i], c)
		}
	}

	var rates []tax.Rate
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		rt, err := parseRecord(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		rates = append(rates, rt)
		if len(rates)%progressEvery == 0 {
			slog.Info("parse progress", slog.Int("rates", len(rates)))
		}
	}

	return rates, nil
}

func parseRecord(rec []string) (tax.Rate, error) {
	field := func(i int) string { return strings.TrimSpace(rec[i]) }
	optional := func(i int) *string {
		if v := field(i); v != "" {
			return &v
		}
		return nil
	}

	rt := tax.Rate{
		ID:         field(0),
		Name:       field(1),
		Country:    strings.ToUpper(field(2)),
		Region:     optional(3),
		PostalCode: optional(4),
		Status:     tax.RateStatus(strings.ToLower(field(8))),
	}
	if rt.ID == "" || rt.Country == "" {
		return rt, errors.New("id and country are required")
	}
	if rt.Status == "" {
		rt.Status = tax.RateActive
	}
	if rt.Status != tax.RateActive && rt.Status != tax.RateInactive {
		return rt, errors.Errorf("invalid status %q", rt.Status)
	}

	if cats := field(5); cats != "" {
		for c := range strings.SplitSeq(cats, "|") {
			if c = strings.TrimSpace(c); c != "" {
				rt.Categories = append(rt.Categories, c)
			}
		}
	}

	rate, err := decimal.NewFromString(field(6))
	if err != nil {
		return rt, errors.Wrapf(err, "parse rate %q", field(6))
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return rt, errors.Errorf("rate %s out of range [0, 1]", rate)
	}
	rt.Rate = rate

	if p := field(7); p != "" {
		priority, err := strconv.Atoi(p)
		if err != nil {
			return rt, errors.Wrapf(err, "parse priority %q", p)
		}
		rt.Priority = priority
	}

	return rt, nil
}

// dedupe keeps the first occurrence of every rate id across tables, in table
// order. The bloom filter answers most lookups; the exact set settles its
// positives.
func dedupe(tables [][]tax.Rate) (unique []tax.Rate, duplicates int) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	seen := make(map[string]struct{})

	for _, rates := range tables {
		for _, rt := range rates {
			if filter.TestString(rt.ID) {
				if _, ok := seen[rt.ID]; ok {
					duplicates++
					continue
				}
			}
			filter.AddString(rt.ID)
			seen[rt.ID] = struct{}{}
			unique = append(unique, rt)
		}
	}

	return unique, duplicates
}

type rateWriter interface {
	Upsert(ctx context.Context, rates []tax.Rate) error
}

// writeRates upserts rates in batches.
func writeRates(ctx context.Context, w rateWriter, rates []tax.Rate) error {
	slog.Info("writing rates to database", slog.Int("count", len(rates)))

	for chunk := range slices.Chunk(rates, batchSize) {
		if err := w.Upsert(ctx, chunk); err != nil {
			return err
		}
	}

	slog.Info("write complete", slog.Int("written", len(rates)))
	return nil
}
