package health

import (
	"context"
	"errors"
	"testing"

	"github.com/SlpAus/agm-voting-backend/internal/platform/database"
	"github.com/SlpAus/agm-voting-backend/internal/testutil"
)

type fakeRedis struct {
	ids      []string
	err      error
	rebuilds int
}

func (f *fakeRedis) checker() *Checker {
	return &Checker{
		runID: func(context.Context) (string, error) {
			if f.err != nil {
				return "", f.err
			}
			id := f.ids[0]
			if len(f.ids) > 1 {
				f.ids = f.ids[1:]
			}
			return id, nil
		},
		rebuild: func(context.Context) error {
			f.rebuilds++
			return nil
		},
		logger: testutil.Logger(),
	}
}

func TestParseRunID(t *testing.T) {
	info := "# Server\r\nredis_version:7.2.4\r\nrun_id:8f3a0c1d2e\r\ntcp_port:6379\r\n"
	id, err := parseRunID(info)
	if err != nil || id != "8f3a0c1d2e" {
		t.Fatalf("unexpected run id %q %v", id, err)
	}
	if _, err := parseRunID("# Server\r\n"); err == nil {
		t.Fatal("expected error without run_id")
	}
}

func TestCheckerRebuildsAfterRestart(t *testing.T) {
	f := &fakeRedis{ids: []string{"aaa"}}
	c := f.checker()
	ctx := context.Background()

	c.InitializeRunID(ctx)
	if !database.IsRedisHealthy() || database.GetLastKnownRunID() != "aaa" {
		t.Fatal("expected healthy with run id aaa")
	}

	c.PerformCheck(ctx)
	if f.rebuilds != 0 {
		t.Fatalf("expected no rebuild, got %d", f.rebuilds)
	}

	// Redis 宕机
	f.err = errors.New("connection refused")
	c.PerformCheck(ctx)
	if database.IsRedisHealthy() {
		t.Fatal("expected unhealthy while redis is down")
	}

	// 以新的 run_id 恢复，触发重建
	f.err = nil
	f.ids = []string{"bbb"}
	c.PerformCheck(ctx)
	if f.rebuilds != 1 || !database.IsRedisHealthy() || database.GetLastKnownRunID() != "bbb" {
		t.Fatalf("expected one rebuild and healthy on bbb, got %d rebuilds", f.rebuilds)
	}
}

func TestCheckerRejectsRebuildInterruptedByRestart(t *testing.T) {
	f := &fakeRedis{ids: []string{"one"}}
	c := f.checker()
	ctx := context.Background()
	c.InitializeRunID(ctx)

	// 检查时是 two，重建完成后变成 three
	f.ids = []string{"two", "three"}
	c.PerformCheck(ctx)
	if database.IsRedisHealthy() {
		t.Fatal("expected unhealthy after interrupted rebuild")
	}

	// 下一次检查在 three 上重建成功
	c.PerformCheck(ctx)
	if f.rebuilds != 2 || !database.IsRedisHealthy() || database.GetLastKnownRunID() != "three" {
		t.Fatalf("expected recovery on three, got %d rebuilds", f.rebuilds)
	}
}

func TestCheckerRebuildsAfterOutageWithoutRestart(t *testing.T) {
	f := &fakeRedis{ids: []string{"same"}}
	c := f.checker()
	ctx := context.Background()
	c.InitializeRunID(ctx)

	f.err = errors.New("i/o timeout")
	c.PerformCheck(ctx)
	if database.IsRedisHealthy() {
		t.Fatal("expected unhealthy during outage")
	}

	// run_id 没变，但降级期间的计数只写进了进程内存储
	f.err = nil
	c.PerformCheck(ctx)
	if f.rebuilds != 1 || !database.IsRedisHealthy() {
		t.Fatalf("expected one rebuild on recovery, got %d", f.rebuilds)
	}

	c.PerformCheck(ctx)
	if f.rebuilds != 1 {
		t.Fatalf("expected no rebuild while healthy, got %d", f.rebuilds)
	}
}
