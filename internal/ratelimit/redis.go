package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowTTLSeconds keeps a counter alive just past its one-second window so
// small clock skew between app servers cannot expire it early.
const windowTTLSeconds = 2

// incrWindowScript bumps the window counter and stamps the TTL when the
// counter is first created, in one round trip.
var incrWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return hits
`)

// RedisLimiter shares per-second windows across app servers. Window keys look
// like "<prefix>:u:42:1767225600" for signed-in users and
// "<prefix>:ip:203.0.113.9:1767225600" for anonymous clients.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow counts one hit against the key's current one-second window. A zero
// or negative limit disables limiting for the key.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if l == nil || l.client == nil || key == "" || limit <= 0 {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	hits, errEval := incrWindowScript.Run(ctx, l.client, []string{l.windowKey(key, sec)}, windowTTLSeconds).Int64()
	if errEval != nil {
		return Result{}, fmt.Errorf("rate limit redis: incr window: %w", errEval)
	}
	if hits > int64(limit) {
		return Result{Reset: reset}, nil
	}
	remaining := limit - int(hits)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, Reset: reset}, nil
}

func (l *RedisLimiter) windowKey(key string, sec int64) string {
	if l.prefix == "" {
		return fmt.Sprintf("%s:%d", key, sec)
	}
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, sec)
}
