package store

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Counter 限流计数器（按 key 过期）
// IncrementAndCheck 原子地 +1 并返回新值；首次命中时设置 ttl
// 返回 allowed = 新值 <= limit
type Counter interface {
	IncrementAndCheck(ctx context.Context, key string, limit int64, ttl time.Duration) (count int64, allowed bool, err error)
	Peek(ctx context.Context, key string) (int64, error)
	Decrement(ctx context.Context, key string) error
}

// INCR + 首次 PEXPIRE 在一个脚本里完成，避免 key 永不过期
var incrementScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// DECR 不能把计数减成负数，也不能复活已过期的 key
var decrementScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and tonumber(v) > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

type RedisCounter struct {
	c      *redis.Client
	prefix string
}

func NewRedisCounter(c *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{c: c, prefix: prefix}
}

var _ Counter = (*RedisCounter)(nil)

func (r *RedisCounter) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisCounter) IncrementAndCheck(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	n, err := incrementScript.Run(ctx, r.c, []string{r.key(key)}, ms).Int64()
	if err != nil {
		return 0, false, err
	}
	return n, n <= limit, nil
}

func (r *RedisCounter) Peek(ctx context.Context, key string) (int64, error) {
	val, err := r.c.Get(ctx, r.key(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RedisCounter) Decrement(ctx context.Context, key string) error {
	return decrementScript.Run(ctx, r.c, []string{r.key(key)}).Err()
}

// Ping 启动时探测 Redis 是否可用
func Ping(ctx context.Context, c *redis.Client) error {
	return c.Ping(ctx).Err()
}
