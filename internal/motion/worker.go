package motion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/platform/database"
	"github.com/SlpAus/agm-voting-backend/pkg/lifecycle"
)

var errNotExpired = errors.New("motion timer not expired")

func stillExpired(m *Motion, now time.Time) error {
	deadline, ok := m.Deadline()
	if !ok || now.Before(deadline) {
		return errNotExpired
	}
	return nil
}

// CloseExpired 关闭所有计时已到的开放动议，返回关闭的数量
func (s *Service) CloseExpired(ctx context.Context) (int, error) {
	var motions []Motion
	err := s.db.WithContext(ctx).
		Where("status = ? AND opened_at IS NOT NULL AND auto_close_seconds > 0", StatusOpen).
		Find(&motions).Error
	if err != nil {
		return 0, fmt.Errorf("查询计时动议失败: %w", err)
	}

	now := s.now()
	closed := 0
	for i := range motions {
		deadline, ok := motions[i].Deadline()
		if !ok || now.Before(deadline) {
			continue
		}
		// 计时到期与活动是否开放无关；加锁后重新检查，计时可能刚被延长
		_, _, err := s.close(ctx, motions[i].ID, false, stillExpired)
		if errors.Is(err, errNotExpired) {
			continue
		}
		if err != nil {
			s.logger.Error("motion_auto_close_failed", "motion_id", motions[i].ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

// RunAutoClose 是自动关闭的后台循环，应通过 lifecycle.Manager.Go 启动
func (s *Service) RunAutoClose(h *lifecycle.Handle, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s.logger.Info("motion_auto_close_started", "interval", interval)
	h.Tick(interval, func() {
		n, err := s.CloseExpired(h.Ctx())
		if err != nil {
			s.logger.Error("motion_auto_close_scan_failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("motion_auto_closed", "count", n)
		}
	})
	s.logger.Info("motion_auto_close_stopped")
}

// Reconcile 把开放动议的缓存计数与数据库中的票逐一比对，修正不一致的缓存，返回修正的数量。
// 共享存储的单次调用失败时增量只落在进程内存储，缓存会与数据库产生偏差。
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&Motion{}).Where("status = ?", StatusOpen).Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("查询开放的动议失败: %w", err)
	}

	fixed := 0
	for _, id := range ids {
		want, err := recompute(s.db.WithContext(ctx), id)
		if err != nil {
			return fixed, err
		}
		got, err := s.tally.Get(ctx, id)
		if err == nil && got == want {
			continue
		}
		if err := s.tally.Set(ctx, id, want); err != nil {
			return fixed, fmt.Errorf("写入动议 %d 的计票缓存失败: %w", id, err)
		}
		s.logger.Warn("motion_tally_drift_fixed", "motion_id", id, "cached", got, "actual", want)
		fixed++
	}
	return fixed, nil
}

// RunReconciler 定期校正计票缓存，Redis不可用时跳过本轮
func (s *Service) RunReconciler(h *lifecycle.Handle, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.logger.Info("motion_reconciler_started", "interval", interval)
	for {
		// 使用可中断的休眠，收到停机信号时立刻退出
		if err := h.Sleep(interval); err != nil {
			s.logger.Info("motion_reconciler_stopped")
			return
		}
		if !database.IsRedisHealthy() {
			continue
		}
		if _, err := s.Reconcile(h.Ctx()); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("motion_reconcile_failed", "error", err)
		}
	}
}
