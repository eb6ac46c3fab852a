// Command checkout-sweeper expires checkout sessions past their TTL. It runs
// once by default, suited to a cron schedule, or forever with -interval.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/tax"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/internal/sweeper"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(ctx, lg, m, cfg)
	})
}

func run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	lock, closeLock, err := newLock(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer closeLock()

	baskets := postgres.NewBasketRepository(pool)
	manager := checkout.NewManager(
		postgres.NewSessionStore(pool),
		baskets,
		catalog.NewService(postgres.NewMethodRepository(pool)),
		tax.NewEngine(
			postgres.NewTaxRateRepository(pool),
			postgres.NewExemptionRepository(pool),
			postgres.NewProductRepository(pool),
			baskets,
		),
		checkout.WithMeterProvider(m.MeterProvider()),
		checkout.WithTracerProvider(m.TracerProvider()),
	)
	s := sweeper.New(manager, lock)

	if cfg.Interval > 0 {
		lg.Info("Sweeping periodically", zap.Duration("interval", cfg.Interval))
		return s.Run(ctx, cfg.Interval)
	}

	n, skipped, err := s.Sweep(ctx)
	if err != nil {
		return errors.Wrap(err, "sweep")
	}
	if skipped {
		lg.Info("Sweep skipped, lock held elsewhere")
		return nil
	}
	lg.Info("Sweep done", zap.Int64("expired", n))
	return nil
}

func newLock(ctx context.Context, lg *zap.Logger, cfg *Config) (sweeper.Lock, func(), error) {
	var opts *redis.Options
	switch {
	case cfg.Redis.URL != "":
		o, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse redis url")
		}
		opts = o
	case cfg.Redis.Addr != "":
		opts = &redis.Options{Addr: cfg.Redis.Addr}
	default:
		lg.Warn("No Redis configured, sweeping without a distributed lock")
		return &sweeper.LocalLock{}, func() {}, nil
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "ping redis")
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			lg.Warn("Close redis client", zap.Error(err))
		}
	}
	return sweeper.NewRedisLock(client, cfg.Lock.Key, cfg.Lock.TTL), closeFn, nil
}
