package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyAgentBucket = "acp:ratelimit:agent:%s"

// Refills by elapsed redis time and takes one token. Redis truncates Lua
// numbers in replies, so the fractional balance comes back as a string.
const agentBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
  tokens = burst
else
  local elapsed = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (elapsed / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), now}
`

var (
	ErrBucketUnavailable = errors.New("rate_limiter_not_configured")
	ErrBucketConfig      = errors.New("invalid_rate_limit_config")
	errBucketReply       = errors.New("invalid_rate_limit_reply")
)

// Decision is the outcome of one agent request against its bucket.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket keeps one bucket per agent credential in redis so every
// gateway instance draws from the same balance.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(agentBucketScript),
	}
}

// Take spends one token from the agent's bucket.
func (t *TokenBucket) Take(ctx context.Context, agentKey string, rate float64, burst int) (*Decision, error) {
	if t == nil || t.client == nil {
		return nil, ErrBucketUnavailable
	}
	if agentKey == "" || rate <= 0 || burst <= 0 {
		return nil, ErrBucketConfig
	}

	reply, err := t.script.Run(
		ctx,
		t.client,
		[]string{fmt.Sprintf(keyAgentBucket, agentKey)},
		rate,
		burst,
		bucketTTL(rate, burst).Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}
	return decisionFromReply(reply, rate, burst)
}

func decisionFromReply(reply []any, rate float64, burst int) (*Decision, error) {
	if len(reply) != 3 {
		return nil, errBucketReply
	}
	allowed, ok := reply[0].(int64)
	if !ok {
		return nil, errBucketReply
	}
	balance, ok := reply[1].(string)
	if !ok {
		return nil, errBucketReply
	}
	remaining, err := strconv.ParseFloat(balance, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBucketReply, err)
	}
	nowMs, ok := reply[2].(int64)
	if !ok {
		return nil, errBucketReply
	}

	d := &Decision{
		Allowed:   allowed == 1,
		Limit:     burst,
		Remaining: int(remaining),
		ResetTime: time.UnixMilli(nowMs),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration((1 - remaining) / rate * float64(time.Second))
		d.ResetTime = d.ResetTime.Add(d.RetryAfter)
	}
	return d, nil
}

// bucketTTL keeps an idle bucket around for twice its full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(float64(burst)/rate*2))
	return time.Duration(seconds) * time.Second
}
