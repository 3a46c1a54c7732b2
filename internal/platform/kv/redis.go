package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis 是基于Redis的 Store 实现
type Redis struct {
	rdb *redis.Client
}

// NewRedis 使用一个已经建立的客户端创建 Store
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) IncrCounters(ctx context.Context, key string, delta map[string]int64, ttl time.Duration) error {
	// HINCRBY 是原子的，不存在读-改-写的丢失更新
	pipe := r.rdb.TxPipeline()
	for field, change := range delta {
		pipe.HIncrBy(ctx, key, field, change)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) SetCounters(ctx context.Context, key string, counts map[string]int64, ttl time.Duration) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(counts) > 0 {
		values := make(map[string]interface{}, len(counts))
		for field, count := range counts {
			values[field] = count
		}
		pipe.HSet(ctx, key, values)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Counters(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("计数器 %s.%s 不是整数: %w", key, field, err)
		}
		counts[field] = n
	}
	return counts, nil
}

func (r *Redis) Touch(ctx context.Context, key, member string, at, cutoff time.Time, ttl time.Duration) (int64, error) {
	pipe := r.rdb.TxPipeline()
	// a. 记录本次心跳
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: member})
	// b. 移除窗口之外的旧记录
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff.Unix()))
	// c. 刷新过期时间
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	// d. 获取更新后的总数
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

func (r *Redis) Sweep(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff.Unix()))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

func (r *Redis) Remove(ctx context.Context, key, member string) error {
	return r.rdb.ZRem(ctx, key, member).Err()
}

func (r *Redis) SetValue(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Value(ctx context.Context, key string) ([]byte, error) {
	value, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

var _ Store = (*Redis)(nil)
