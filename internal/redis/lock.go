package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor lock not acquired")
)

// Locker is used by the booking service to serialise writes to one doctor's
// availability list.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error
}

type redisDoctorLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	margin time.Duration
}

type LockOption func(*redisDoctorLocker)

// WithWaitTimeout bounds how long a booking waits for a doctor lock held by
// another booking. Zero fails immediately.
func WithWaitTimeout(d time.Duration) LockOption {
	return func(l *redisDoctorLocker) { l.wait = d }
}

// WithReleaseMargin reserves the tail of the TTL for work that runs after
// the callback's deadline, such as a compensating store write. The
// callback deadline is ttl minus margin.
func WithReleaseMargin(d time.Duration) LockOption {
	return func(l *redisDoctorLocker) { l.margin = d }
}

// NewRedisDoctorLocker creates a locker that uses a per doctor Redis key
func NewRedisDoctorLocker(client *redis.Client, ttl time.Duration, opts ...LockOption) Locker {
	l := &redisDoctorLocker{
		client: client,
		ttl:    ttl,
		wait:   ttl,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.margin < 0 || l.margin >= ttl {
		l.margin = 0
	}
	return l
}

// LockKey is the Redis key guarding a doctor's availability.
func LockKey(doctorID int64) string {
	return fmt.Sprintf("lock:doctor:%d", doctorID)
}

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = 200 * time.Millisecond
)

func (l *redisDoctorLocker) WithDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error {
	key := LockKey(doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	// release must run even if the request context was cancelled mid-booking
	releaseCtx := context.WithoutCancel(ctx)
	defer func() {
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl-l.margin)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire retries SETNX with capped exponential backoff until the lock is
// taken, the wait timeout passes or ctx is done.
func (l *redisDoctorLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	backoff := minBackoff

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire doctor lock: %w", err)
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockNotAcquired
		}
		if backoff > remaining {
			backoff = remaining
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for doctor lock: %w", ctx.Err())
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}
