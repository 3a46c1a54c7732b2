// Package tally 维护每个动议的实时计票缓存。
// 缓存只是加速层，权威数据始终是数据库中的投票记录。
package tally

import (
	"context"
	"fmt"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/platform/kv"
)

// TTL 是计票缓存的过期时间
const TTL = 24 * time.Hour

// 计票字段
const (
	Yes     = "yes"
	No      = "no"
	Abstain = "abstain"
)

// Counts 是一个动议的三项计数，零票也总是包含全部三个键
type Counts struct {
	Yes     int64 `json:"yes"`
	No      int64 `json:"no"`
	Abstain int64 `json:"abstain"`
}

// Total 返回总票数
func (c Counts) Total() int64 { return c.Yes + c.No + c.Abstain }

func (c Counts) toMap() map[string]int64 {
	return map[string]int64{Yes: c.Yes, No: c.No, Abstain: c.Abstain}
}

func fromMap(m map[string]int64) Counts {
	return Counts{Yes: m[Yes], No: m[No], Abstain: m[Abstain]}
}

// Key 返回动议计票缓存的键
func Key(motionID uint) string {
	return fmt.Sprintf("motion:%d:tally", motionID)
}

// Store 是基于 kv.Store 的计票缓存
type Store struct {
	kv kv.Store
}

// NewStore 创建计票缓存
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Apply 原子地应用一组带符号的增量
func (s *Store) Apply(ctx context.Context, motionID uint, delta map[string]int64) error {
	return s.kv.IncrCounters(ctx, Key(motionID), delta, TTL)
}

// Add 为 choice 加一票
func (s *Store) Add(ctx context.Context, motionID uint, choice string) error {
	return s.Apply(ctx, motionID, map[string]int64{choice: 1})
}

// Move 把一票从 from 改到 to
func (s *Store) Move(ctx context.Context, motionID uint, from, to string) error {
	return s.Apply(ctx, motionID, map[string]int64{to: 1, from: -1})
}

// Set 用权威计数整体覆盖缓存
func (s *Store) Set(ctx context.Context, motionID uint, counts Counts) error {
	return s.kv.SetCounters(ctx, Key(motionID), counts.toMap(), TTL)
}

// Get 读取缓存，缺失的键按0处理
func (s *Store) Get(ctx context.Context, motionID uint) (Counts, error) {
	m, err := s.kv.Counters(ctx, Key(motionID))
	if err != nil {
		return Counts{}, err
	}
	return fromMap(m), nil
}
