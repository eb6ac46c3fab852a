package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/tax"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	TaxCategory *string         `json:"taxCategory"`
}

const (
	demoBasketID   = "demo-basket"
	demoCustomerID = "demo-customer"
)

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or CHECKOUT_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("running migrations")

	if err := postgres.Migrate(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedMethods(ctx, pool); err != nil {
		return errors.Wrap(err, "seed methods")
	}
	if err := seedTaxes(ctx, pool); err != nil {
		return errors.Wrap(err, "seed taxes")
	}
	if err := seedBasket(ctx, pool); err != nil {
		return errors.Wrap(err, "seed basket")
	}
	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	repo := postgres.NewProductRepository(pool)
	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:            p.ID,
			Name:          p.Name,
			Price:         p.Price,
			TaxCategoryID: p.TaxCategory,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

// seedMethods creates the demo methods through the catalog service so the
// first method of each kind becomes its default. Existing ids are skipped.
func seedMethods(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding checkout methods")

	repo := postgres.NewMethodRepository(pool)
	svc := catalog.NewService(repo)

	methods := []catalog.Method{
		{ID: "standard", Kind: catalog.KindShipping, Name: "Standard", Description: "3-5 business days", Price: decimal.RequireFromString("5.99"), Type: "standard", IsEnabled: true, SortOrder: 1},
		{ID: "express", Kind: catalog.KindShipping, Name: "Express", Description: "Next business day", Price: decimal.RequireFromString("14.99"), Type: "express", IsEnabled: true, SortOrder: 2},
		{ID: "pickup", Kind: catalog.KindShipping, Name: "In-store pickup", Price: decimal.Zero, Type: "pickup", IsEnabled: true, SortOrder: 3},
		{ID: "card", Kind: catalog.KindPayment, Name: "Credit card", Type: "card", IsEnabled: true, SortOrder: 1},
		{ID: "invoice", Kind: catalog.KindPayment, Name: "Invoice", Description: "Business customers only", Type: "invoice", IsEnabled: false, SortOrder: 2},
	}

	for _, m := range methods {
		if _, err := repo.Get(ctx, m.Kind, m.ID); err == nil {
			slog.Info("method exists", slog.String("kind", string(m.Kind)), slog.String("id", m.ID))
			continue
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return errors.Wrapf(err, "get %s method %s", m.Kind, m.ID)
		}

		created, err := svc.Create(ctx, m.Kind, m)
		if err != nil {
			return errors.Wrapf(err, "create %s method %s", m.Kind, m.ID)
		}

		slog.Info("created method",
			slog.String("kind", string(created.Kind)),
			slog.String("id", created.ID),
			slog.Bool("default", created.IsDefault),
		)
	}

	return nil
}

func seedTaxes(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding tax rates")

	ca, sf := "CA", "94103"
	rates := []tax.Rate{
		{ID: "us-ca", Name: "California State Tax", Country: "US", Region: &ca, Rate: decimal.RequireFromString("0.0725"), Priority: 10, Status: tax.RateActive},
		{ID: "us-ca-sf", Name: "San Francisco District Tax", Country: "US", Region: &ca, PostalCode: &sf, Rate: decimal.RequireFromString("0.01375"), Priority: 20, Status: tax.RateActive},
		{ID: "us-ca-food", Name: "California Prepared Food Surcharge", Country: "US", Region: &ca, Categories: []string{"prepared_food"}, Rate: decimal.RequireFromString("0.01"), Priority: 5, Status: tax.RateActive},
		{ID: "gb-vat", Name: "UK VAT", Country: "GB", Rate: decimal.RequireFromString("0.20"), Priority: 10, Status: tax.RateActive},
		{ID: "au-gst", Name: "Australia GST", Country: "AU", Rate: decimal.RequireFromString("0.10"), Priority: 10, Status: tax.RateActive},
	}
	if err := postgres.NewTaxRateRepository(pool).Upsert(ctx, rates); err != nil {
		return errors.Wrap(err, "upsert tax rates")
	}
	slog.Info("upserted tax rates", slog.Int("count", len(rates)))

	exemption := tax.Exemption{
		ID:         "demo-exemption",
		CustomerID: "exempt-customer",
		Status:     tax.ExemptionActive,
		Reason:     "Registered non-profit",
	}
	if err := postgres.NewExemptionRepository(pool).Upsert(ctx, exemption); err != nil {
		return errors.Wrap(err, "upsert exemption")
	}
	slog.Info("upserted exemption", slog.String("customer_id", exemption.CustomerID))

	return nil
}

func seedBasket(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo basket", slog.String("id", demoBasketID))

	repo := postgres.NewBasketRepository(pool)
	items := map[string]int{"1": 2, "5": 1}
	for productID, qty := range items {
		if err := repo.AddItem(ctx, demoBasketID, demoCustomerID, productID, qty); err != nil {
			return errors.Wrapf(err, "add product %s", productID)
		}
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	info := auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Checkout admin",
		Scopes:  []string{auth.ScopeAdmin},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}
