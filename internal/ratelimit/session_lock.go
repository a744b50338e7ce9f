package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	checkoutdomain "github.com/smallbiznis/acpgateway/internal/checkout/domain"
	"github.com/smallbiznis/acpgateway/internal/config"
	"go.uber.org/zap"
)

const (
	sessionLockPoll = 50 * time.Millisecond
	sessionLockWait = 5 * time.Second
)

// SessionLocker serializes mutations of one checkout session across
// instances with a redis lease.
type SessionLocker struct {
	locker *Locker
	ttl    time.Duration
	wait   time.Duration
	log    *zap.Logger
}

// NewSessionLocker returns nil when redis is not configured; callers then
// fall back to in-process serialization.
func NewSessionLocker(cfg config.Config, client *redis.Client, log *zap.Logger) checkoutdomain.SessionLocker {
	if client == nil {
		return nil
	}
	ttl := cfg.RateLimit.SessionLockTTL
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &SessionLocker{
		locker: NewLocker(client),
		ttl:    ttl,
		wait:   sessionLockWait,
		log:    log.Named("ratelimit.session_lock"),
	}
}

// LockSession polls until the session's lease is free or the wait runs out.
func (s *SessionLocker) LockSession(ctx context.Context, sessionID string) (func(), error) {
	name := SessionLockName(sessionID)
	deadline := time.Now().Add(s.wait)

	for {
		lease, err := s.locker.TryAcquire(ctx, name, s.ttl)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return func() {
				if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("session lock release failed", zap.String("key", lease.Key()), zap.Error(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, checkoutdomain.ErrSessionLocked
		}

		timer := time.NewTimer(sessionLockPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(checkoutdomain.ErrSessionLocked, ctx.Err())
		case <-timer.C:
		}
	}
}
