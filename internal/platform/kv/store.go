// Package kv 定义了计票与在线状态所依赖的快速共享存储。
// 它只是加速层：所有内容都可以从持久化数据库重建。
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable 表示后端存储当前不可用
var ErrUnavailable = errors.New("kv: store unavailable")

// Store 是快速共享存储的最小接口。
// 计数器为 hash 语义，滑动窗口为 sorted set 语义，值为带TTL的字符串。
type Store interface {
	// IncrCounters 原子地对一个计数器组应用带符号的增量
	IncrCounters(ctx context.Context, key string, delta map[string]int64, ttl time.Duration) error
	// SetCounters 整体替换一个计数器组；counts为空时删除该组
	SetCounters(ctx context.Context, key string, counts map[string]int64, ttl time.Duration) error
	// Counters 读取一个计数器组，不存在时返回空map
	Counters(ctx context.Context, key string) (map[string]int64, error)

	// Touch 在窗口中记录 member 的最新时间，清理早于 cutoff 的成员，并返回剩余数量
	Touch(ctx context.Context, key, member string, at, cutoff time.Time, ttl time.Duration) (int64, error)
	// Sweep 清理早于 cutoff 的成员并返回剩余数量
	Sweep(ctx context.Context, key string, cutoff time.Time) (int64, error)
	// Remove 从窗口中移除一个成员
	Remove(ctx context.Context, key, member string) error

	// SetValue / Value / Delete 用于缓存小型JSON载荷，Value 在不存在时返回 (nil, nil)
	SetValue(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Value(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
