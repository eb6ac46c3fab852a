// Package sweeper expires abandoned checkout sessions on a schedule. Runs are
// serialized through a Lock so overlapping cron invocations sweep once.
package sweeper

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Cleaner expires sessions. *checkout.Manager implements it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Sweeper runs Cleaner passes under a Lock.
type Sweeper struct {
	cleaner Cleaner
	lock    Lock
}

// New creates a Sweeper.
func New(cleaner Cleaner, lock Lock) *Sweeper {
	return &Sweeper{cleaner: cleaner, lock: lock}
}

// Sweep runs one pass. skipped is true when another run holds the lock.
func (s *Sweeper) Sweep(ctx context.Context) (expired int64, skipped bool, err error) {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "acquire lock")
	}
	if !ok {
		return 0, true, nil
	}
	defer func() {
		// Release even when ctx was canceled mid-sweep.
		if rerr := s.lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			zctx.From(ctx).Warn("Release sweep lock", zap.Error(rerr))
		}
	}()

	n, err := s.cleaner.CleanupExpired(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "cleanup expired")
	}
	return n, false, nil
}

// Run sweeps once and then every interval until ctx is done. Failed passes
// are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	lg := zctx.From(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		n, skipped, err := s.Sweep(ctx)
		switch {
		case err != nil:
			lg.Error("Sweep failed", zap.Error(err))
		case skipped:
			lg.Info("Sweep skipped, lock held elsewhere")
		default:
			lg.Info("Sweep done", zap.Int64("expired", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
