package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/acpgateway/internal/config"
	"golang.org/x/time/rate"
)

// AgentLimiter throttles agent requests per credential. It uses the shared
// redis bucket when redis is configured and a per-process limiter otherwise.
type AgentLimiter struct {
	enabled bool
	rate    float64
	burst   int

	bucket *TokenBucket

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewAgentLimiter(cfg config.Config, client *redis.Client) (*AgentLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if limitCfg.AgentRate <= 0 || limitCfg.AgentBurst <= 0 {
		return nil, fmt.Errorf("agent rate limit must be positive (rate=%v burst=%d)", limitCfg.AgentRate, limitCfg.AgentBurst)
	}
	return &AgentLimiter{
		enabled: true,
		rate:    limitCfg.AgentRate,
		burst:   limitCfg.AgentBurst,
		bucket:  NewTokenBucket(client),
		local:   make(map[string]*rate.Limiter),
	}, nil
}

func (l *AgentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *AgentLimiter) Allow(ctx context.Context, agentKey string) (*Decision, error) {
	if !l.Enabled() {
		return &Decision{Allowed: true}, nil
	}
	agentKey = strings.TrimSpace(agentKey)
	if l.bucket != nil {
		return l.bucket.Take(ctx, agentKey, l.rate, l.burst)
	}
	return l.allowLocal(agentKey), nil
}

func (l *AgentLimiter) allowLocal(agentKey string) *Decision {
	l.mu.Lock()
	limiter, ok := l.local[agentKey]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rate), l.burst)
		l.local[agentKey] = limiter
	}
	l.mu.Unlock()

	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return &Decision{Allowed: false, Limit: l.burst}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return &Decision{
			Allowed:    false,
			Limit:      l.burst,
			ResetTime:  now.Add(delay),
			RetryAfter: delay,
		}
	}
	return &Decision{
		Allowed:   true,
		Limit:     l.burst,
		Remaining: int(limiter.TokensAt(now)),
		ResetTime: now,
	}
}
