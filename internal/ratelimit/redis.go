package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter and, on the first hit of a window,
// sets its expiry. Running both in one script keeps a crash between INCR and
// PEXPIRE from leaving a counter that never resets.
var fixedWindow = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return c
`)

// Redis is a fixed-window limiter whose counters live in Redis, so every
// instance behind a load balancer shares them.
type Redis struct {
	client redis.Scripter
	prefix string
	max    int
	window time.Duration
}

var _ Limiter = (*Redis)(nil)

func NewRedis(client redis.Scripter, p Policy) *Redis {
	return &Redis{
		client: client,
		prefix: "ratelimit:",
		max:    p.Max,
		window: p.Window,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	const op = "ratelimit.Redis.Allow"

	n, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + key}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n <= int64(r.max), nil
}
