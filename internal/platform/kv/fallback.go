package kv

import (
	"context"
	"log/slog"
	"time"
)

// Fallback 优先使用主存储，在主存储不健康或调用失败时透明地切换到后备存储。
// 调用方永远不会看到主存储的瞬时错误。
type Fallback struct {
	primary  Store
	fallback Store
	healthy  func() bool
	logger   *slog.Logger
}

// NewFallback 组合主存储与后备存储。primary 可以为nil，此时始终使用后备存储。
// healthy 为nil时视为始终健康，由调用错误触发降级。
func NewFallback(primary, fallback Store, healthy func() bool, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	if healthy == nil {
		healthy = func() bool { return true }
	}
	return &Fallback{primary: primary, fallback: fallback, healthy: healthy, logger: logger}
}

func (f *Fallback) usePrimary() bool {
	return f.primary != nil && f.healthy()
}

func (f *Fallback) warn(op, key string, err error) {
	f.logger.Warn("共享存储操作失败，改用进程内存储", "op", op, "key", key, "error", err)
}

func (f *Fallback) IncrCounters(ctx context.Context, key string, delta map[string]int64, ttl time.Duration) error {
	if f.usePrimary() {
		err := f.primary.IncrCounters(ctx, key, delta, ttl)
		if err == nil {
			return nil
		}
		f.warn("incr_counters", key, err)
	}
	return f.fallback.IncrCounters(ctx, key, delta, ttl)
}

func (f *Fallback) SetCounters(ctx context.Context, key string, counts map[string]int64, ttl time.Duration) error {
	if f.usePrimary() {
		err := f.primary.SetCounters(ctx, key, counts, ttl)
		if err == nil {
			return nil
		}
		f.warn("set_counters", key, err)
	}
	return f.fallback.SetCounters(ctx, key, counts, ttl)
}

func (f *Fallback) Counters(ctx context.Context, key string) (map[string]int64, error) {
	if f.usePrimary() {
		counts, err := f.primary.Counters(ctx, key)
		if err == nil {
			return counts, nil
		}
		f.warn("counters", key, err)
	}
	return f.fallback.Counters(ctx, key)
}

func (f *Fallback) Touch(ctx context.Context, key, member string, at, cutoff time.Time, ttl time.Duration) (int64, error) {
	if f.usePrimary() {
		n, err := f.primary.Touch(ctx, key, member, at, cutoff, ttl)
		if err == nil {
			return n, nil
		}
		f.warn("touch", key, err)
	}
	return f.fallback.Touch(ctx, key, member, at, cutoff, ttl)
}

func (f *Fallback) Sweep(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	if f.usePrimary() {
		n, err := f.primary.Sweep(ctx, key, cutoff)
		if err == nil {
			return n, nil
		}
		f.warn("sweep", key, err)
	}
	return f.fallback.Sweep(ctx, key, cutoff)
}

func (f *Fallback) Remove(ctx context.Context, key, member string) error {
	if f.usePrimary() {
		err := f.primary.Remove(ctx, key, member)
		if err == nil {
			return nil
		}
		f.warn("remove", key, err)
	}
	return f.fallback.Remove(ctx, key, member)
}

func (f *Fallback) SetValue(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.usePrimary() {
		err := f.primary.SetValue(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		f.warn("set_value", key, err)
	}
	return f.fallback.SetValue(ctx, key, value, ttl)
}

func (f *Fallback) Value(ctx context.Context, key string) ([]byte, error) {
	if f.usePrimary() {
		value, err := f.primary.Value(ctx, key)
		if err == nil {
			return value, nil
		}
		f.warn("value", key, err)
	}
	return f.fallback.Value(ctx, key)
}

func (f *Fallback) Delete(ctx context.Context, key string) error {
	if f.usePrimary() {
		err := f.primary.Delete(ctx, key)
		if err == nil {
			return nil
		}
		f.warn("delete", key, err)
	}
	return f.fallback.Delete(ctx, key)
}

var _ Store = (*Fallback)(nil)
