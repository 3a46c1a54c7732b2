package presence

import (
	"context"
	"testing"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/platform/kv"
	"github.com/SlpAus/agm-voting-backend/internal/testutil"
)

func TestPresenceConvergesToZero(t *testing.T) {
	redisStore, _ := testutil.RedisStore(t)
	for name, backend := range map[string]kv.Store{"memory": kv.NewMemory(), "redis": redisStore} {
		t.Run(name, func(t *testing.T) {
			tr := NewTracker(backend, 0)
			now := time.Unix(1_800_000_000, 0)
			tr.now = func() time.Time { return now }
			ctx := context.Background()

			if n, _ := tr.Heartbeat(ctx, 1, "alice"); n != 1 {
				t.Fatalf("expected 1, got %d", n)
			}
			if n, _ := tr.Heartbeat(ctx, 1, "bob"); n != 2 {
				t.Fatalf("expected 2, got %d", n)
			}
			// 重复心跳不会重复计数
			if n, _ := tr.Heartbeat(ctx, 1, "alice"); n != 2 {
				t.Fatalf("expected 2 after repeated heartbeat, got %d", n)
			}
			if n, _ := tr.Count(ctx, 2); n != 0 {
				t.Fatalf("other events are independent, got %d", n)
			}

			now = now.Add(30 * time.Second)
			if n, _ := tr.Heartbeat(ctx, 1, "bob"); n != 2 {
				t.Fatalf("expected alice still inside window, got %d", n)
			}

			now = now.Add(20 * time.Second)
			if n, _ := tr.Count(ctx, 1); n != 1 {
				t.Fatalf("expected alice to age out, got %d", n)
			}

			now = now.Add(time.Minute)
			for i := 0; i < 3; i++ {
				if n, _ := tr.Count(ctx, 1); n != 0 {
					t.Fatalf("expected presence to converge to 0, got %d", n)
				}
			}
		})
	}
}

func TestMarkGone(t *testing.T) {
	tr := NewTracker(kv.NewMemory(), 45*time.Second)
	ctx := context.Background()
	_, _ = tr.Heartbeat(ctx, 1, "alice")
	_, _ = tr.Heartbeat(ctx, 1, "bob")

	if err := tr.MarkGone(ctx, 1, "alice"); err != nil {
		t.Fatal(err)
	}
	if n, _ := tr.Count(ctx, 1); n != 1 {
		t.Fatalf("expected 1 after mark gone, got %d", n)
	}
}

func TestRedisKeyTTL(t *testing.T) {
	store, mr := testutil.RedisStore(t)
	tr := NewTracker(store, 45*time.Second)
	_, _ = tr.Heartbeat(context.Background(), 3, "alice")
	if ttl := mr.TTL(Key(3)); ttl != 120*time.Second {
		t.Fatalf("expected 120s ttl, got %v", ttl)
	}
}
