// Package health 周期性检查Redis，检测到重启后从数据库重建缓存。
// 检查结果写入 database 包的全局状态，kv.Fallback 据此决定是否绕过Redis。
package health

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SlpAus/agm-voting-backend/internal/platform/database"
	"github.com/SlpAus/agm-voting-backend/pkg/lifecycle"
)

const (
	checkInterval = 5 * time.Second
	pingTimeout   = 2 * time.Second
)

var runIDPattern = regexp.MustCompile(`run_id:([a-f0-9]+)`)

// Checker 是Redis健康检查器
type Checker struct {
	runID   func(ctx context.Context) (string, error)
	rebuild func(ctx context.Context) error
	logger  *slog.Logger
}

// NewChecker 创建检查器，rebuild 在Redis重启后用于重建缓存
func NewChecker(rdb *redis.Client, rebuild func(ctx context.Context) error, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		runID:   func(ctx context.Context) (string, error) { return redisRunID(ctx, rdb) },
		rebuild: rebuild,
		logger:  logger,
	}
}

// parseRunID 从 INFO server 的输出中提取 run_id
func parseRunID(info string) (string, error) {
	matches := runIDPattern.FindStringSubmatch(info)
	if len(matches) < 2 {
		return "", fmt.Errorf("无法在Redis INFO中找到run_id")
	}
	return matches[1], nil
}

func redisRunID(ctx context.Context, rdb *redis.Client) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	info, err := rdb.Info(ctx, "server").Result()
	if err != nil {
		return "", err
	}
	return parseRunID(info)
}

// InitializeRunID 在启动时记录初始的run_id。Redis不可用时标记为降级，由后续检查恢复。
func (c *Checker) InitializeRunID(ctx context.Context) {
	runID, err := c.runID(ctx)
	if err != nil {
		c.logger.Warn("redis_run_id_unavailable", "error", err)
		database.UpdateStatus(false, "")
		return
	}
	database.UpdateStatus(true, runID)
	c.logger.Info("redis_run_id_initialized", "run_id", runID)
}

// rebuildAtomically 重建缓存，并确认重建期间Redis没有再次重启
func (c *Checker) rebuildAtomically(ctx context.Context, before string) bool {
	c.logger.Info("redis_cache_rebuild_started", "run_id", before)
	if err := c.rebuild(ctx); err != nil {
		c.logger.Error("redis_cache_rebuild_failed", "error", err)
		return false
	}

	after, err := c.runID(ctx)
	if err != nil {
		c.logger.Error("redis_unreachable_after_rebuild", "error", err)
		return false
	}
	if before != after {
		c.logger.Error("redis_restarted_during_rebuild", "before", before, "after", after)
		return false
	}
	c.logger.Info("redis_cache_rebuild_ok", "run_id", after)
	return true
}

// PerformCheck 执行一次检查，必要时重建缓存
func (c *Checker) PerformCheck(ctx context.Context) {
	current, err := c.runID(ctx)
	if err != nil {
		database.UpdateStatus(false, "")
		return
	}

	if current == database.GetLastKnownRunID() {
		// 从降级中恢复：降级期间的写入只落在进程内存储，Redis里的计数已经过时
		if !database.IsRedisHealthy() && !c.rebuildAtomically(ctx, current) {
			return
		}
		if database.UpdateStatus(true, current) {
			c.logger.Info("redis_recovered", "run_id", current)
		}
		return
	}

	// run_id 变化说明Redis重启过，缓存内容已丢失。
	// 重建期间保持不可用，kv.Fallback 会继续使用进程内存储。
	database.UpdateStatus(false, "")
	if c.rebuildAtomically(ctx, current) {
		database.UpdateStatus(true, current)
	}
}

// Run 是检查器的后台循环，应通过 lifecycle.Manager.Go 启动
func (c *Checker) Run(h *lifecycle.Handle) {
	c.logger.Info("redis_health_checker_started", "interval", checkInterval)
	h.Tick(checkInterval, func() { c.PerformCheck(h.Ctx()) })
}
