package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Every gateway lock lives under this prefix so a shared redis can be
// inspected with a single SCAN.
const lockKeyPrefix = "acp:lock:"

// Compare-and-delete: only the holder's token may drop the key.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockUnavailable = errors.New("lock_client_not_configured")
	ErrLockName        = errors.New("invalid_lock_name")
	ErrLockTTL         = errors.New("invalid_lock_ttl")
)

// Locker hands out redis leases shared by every gateway instance. Session
// mutations and scheduler jobs both go through it.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

// Lease is a held lock. It expires on its own after the TTL it was taken
// with, so a crashed holder never blocks the key for good.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// LockKey returns the redis key for a lock name, e.g. "session:acp_session_x"
// becomes "acp:lock:session:acp_session_x".
func LockKey(name string) string {
	return lockKeyPrefix + strings.TrimSpace(name)
}

// SessionLockName names the lock guarding one checkout session.
func SessionLockName(sessionID string) string {
	return "session:" + strings.TrimSpace(sessionID)
}

// JobLockName names the lease one scheduler job runs under.
func JobLockName(job string) string {
	return "scheduler:" + strings.TrimSpace(job)
}

// TryAcquire takes the named lock if it is free. A nil lease with a nil
// error means another holder has it.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockUnavailable
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrLockName
	}
	if ttl <= 0 {
		return nil, ErrLockTTL
	}

	lease := &Lease{locker: l, key: LockKey(name), token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

func (l *Lease) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}

// Release drops the lock if this lease still holds it. Releasing an expired
// or taken-over lease is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.locker == nil || l.locker.client == nil {
		return nil
	}
	return l.locker.script.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
}
