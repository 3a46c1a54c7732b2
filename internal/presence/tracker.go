// Package presence 用滑动窗口统计每个活动当前在线的参会者。
// 在线是乐观且有损的：停止心跳的连接会在超时后自然消失。
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/platform/kv"
)

// DefaultTimeout 是默认的心跳超时
const DefaultTimeout = 45 * time.Second

// Key 返回活动在线集合的键
func Key(eventID uint) string {
	return fmt.Sprintf("presence:event:%d", eventID)
}

// Tracker 基于 kv.Store 的滑动窗口实现在线统计
type Tracker struct {
	kv      kv.Store
	timeout time.Duration
	now     func() time.Time
}

// NewTracker 创建在线统计器，timeout<=0 时使用 DefaultTimeout
func NewTracker(store kv.Store, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{kv: store, timeout: timeout, now: time.Now}
}

// Timeout 返回心跳超时
func (t *Tracker) Timeout() time.Duration { return t.timeout }

// ttl 是整个集合的过期时间，max(2*timeout, 120s)
func (t *Tracker) ttl() time.Duration {
	return max(2*t.timeout, 120*time.Second)
}

// Heartbeat 记录一次心跳并返回当前在线人数
func (t *Tracker) Heartbeat(ctx context.Context, eventID uint, identity string) (int64, error) {
	now := t.now()
	return t.kv.Touch(ctx, Key(eventID), identity, now, now.Add(-t.timeout), t.ttl())
}

// Count 清理超时成员并返回当前在线人数
func (t *Tracker) Count(ctx context.Context, eventID uint) (int64, error) {
	return t.kv.Sweep(ctx, Key(eventID), t.now().Add(-t.timeout))
}

// MarkGone 在连接断开时显式移除
func (t *Tracker) MarkGone(ctx context.Context, eventID uint, identity string) error {
	return t.kv.Remove(ctx, Key(eventID), identity)
}
