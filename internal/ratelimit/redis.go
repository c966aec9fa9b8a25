package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ledgerguard/backend/internal/apperr"
	"ledgerguard/backend/internal/security"
)

const redisKeyPrefix = "rate_limit:"

// slidingWindowScript prunes, counts and reserves in one step. Members carry a random suffix so
// two calls in the same millisecond count separately.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)
if current < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, ttl)
  return 1
end
return 0
`)

// RedisSlidingWindow is a Limiter shared by every replica through Redis sorted sets.
type RedisSlidingWindow struct {
	client redis.Scripter
	now    func() time.Time
}

// NewRedisSlidingWindow returns a limiter over client. now may be nil.
func NewRedisSlidingWindow(client redis.Scripter, now func() time.Time) *RedisSlidingWindow {
	if now == nil {
		now = time.Now
	}
	return &RedisSlidingWindow{client: client, now: now}
}

// Allow implements Limiter.
func (r *RedisSlidingWindow) Allow(ctx context.Context, identifier, action string, limit int, window time.Duration) (bool, error) {
	if err := checkArgs(identifier, window); err != nil {
		return false, err
	}
	if limit <= 0 {
		return false, nil
	}
	suffix, err := security.GenerateSecureToken(8)
	if err != nil {
		return false, err
	}
	nowMs := r.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{redisKeyPrefix + key(identifier, action)},
		nowMs, nowMs-window.Milliseconds(), limit, window.Milliseconds(),
		strconv.FormatInt(nowMs, 10)+"-"+suffix,
	).Int()
	if err != nil {
		return false, apperr.Storage("rate limit script", err)
	}
	return res == 1, nil
}
