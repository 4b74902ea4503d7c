package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
)

type hookBeginKey struct{}

// Hooks reports slow statements on the hooked SQLite driver.
type Hooks struct {
	threshold atomic.Int64
}

func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	return context.WithValue(ctx, hookBeginKey{}, time.Now()), nil
}

func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin, ok := ctx.Value(hookBeginKey{}).(time.Time)
	if !ok {
		return ctx, nil
	}
	d := time.Since(begin)
	if limit := time.Duration(h.threshold.Load()); limit > 0 && d > limit {
		color.Red("%v slow sql: %s %q took: %s\n", time.Now().Format(time.RFC3339), query, args, d)
	}
	return ctx, nil
}

// SetSlowQueryThreshold changes the duration above which statements are reported.
// Zero disables reporting.
func (h *Hooks) SetSlowQueryThreshold(d time.Duration) {
	h.threshold.Store(int64(d))
}
