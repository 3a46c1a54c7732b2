package tally

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/SlpAus/agm-voting-backend/internal/platform/kv"
	"github.com/SlpAus/agm-voting-backend/internal/testutil"
)

func TestMissingCountsAreZero(t *testing.T) {
	s := NewStore(kv.NewMemory())
	c, err := s.Get(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if c != (Counts{}) {
		t.Fatalf("expected zero counts, got %+v", c)
	}
}

// 模拟多个选民反复改票，缓存最终应等于每个选民最后一次选择的分布
func TestConcurrentChangesMatchFinalDistribution(t *testing.T) {
	redisStore, _ := testutil.RedisStore(t)
	for name, backend := range map[string]kv.Store{"memory": kv.NewMemory(), "redis": redisStore} {
		t.Run(name, func(t *testing.T) {
			s := NewStore(backend)
			ctx := context.Background()
			choices := []string{Yes, No, Abstain}

			final := make([]string, 30)
			var wg sync.WaitGroup
			for v := range final {
				wg.Add(1)
				go func(v int) {
					defer wg.Done()
					r := rand.New(rand.NewSource(int64(v)))
					current := choices[r.Intn(3)]
					_ = s.Add(ctx, 1, current)
					for i := 0; i < 5; i++ {
						next := choices[r.Intn(3)]
						if next != current {
							_ = s.Move(ctx, 1, current, next)
							current = next
						}
					}
					final[v] = current
				}(v)
			}
			wg.Wait()

			var want Counts
			for _, c := range final {
				switch c {
				case Yes:
					want.Yes++
				case No:
					want.No++
				case Abstain:
					want.Abstain++
				}
			}
			got, err := s.Get(ctx, 1)
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Fatalf("expected %+v, got %+v", want, got)
			}
		})
	}
}

func TestSetOverwrites(t *testing.T) {
	s := NewStore(kv.NewMemory())
	ctx := context.Background()
	_ = s.Add(ctx, 2, Yes)
	_ = s.Set(ctx, 2, Counts{No: 3})
	c, _ := s.Get(ctx, 2)
	if c != (Counts{No: 3}) {
		t.Fatalf("unexpected %+v", c)
	}
	if c.Total() != 3 {
		t.Fatalf("expected total 3, got %d", c.Total())
	}
}
