package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is anything with a context-aware Ping, such as *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the result of p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineCountCheck fails when more than limit goroutines are running,
// which usually means a leak.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when any recorded stop-the-world pause exceeds limit.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if len(stats.Pause) == 0 {
			return nil
		}
		if longest := slices.Max(stats.Pause); longest > limit {
			return errors.Errorf("GC pause %s exceeds threshold %s", longest, limit)
		}
		return nil
	}
}

