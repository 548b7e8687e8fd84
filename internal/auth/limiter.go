package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptLimiter はログイン失敗回数をクライアント単位で数え、上限到達でロックします。
type AttemptLimiter interface {
	// Check はロック中なら残り時間を返します。
	Check(ctx context.Context, key string) (time.Duration, error)
	// RecordFailure は失敗を記録し、ロックまでの残り試行回数を返します。
	RecordFailure(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// LimiterPolicy はロックの条件です。
type LimiterPolicy struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// MemoryLimiter はプロセス内で状態を持つ AttemptLimiter です。
type MemoryLimiter struct {
	policy   LimiterPolicy
	now      func() time.Time
	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter(policy LimiterPolicy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   policy,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string) (time.Duration, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	state, ok := l.attempts[key]
	if !ok {
		return 0, nil
	}
	now := l.now()
	if !now.Before(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	l.pruneLocked(now)
	state, ok := l.attempts[key]
	if !ok {
		state = &attemptState{firstAttempt: now}
		l.attempts[key] = state
	}

	state.count++
	if state.count >= l.policy.MaxAttempts {
		state.lockedUntil = now.Add(l.policy.LockDuration)
		state.count = l.policy.MaxAttempts
	}

	remaining := l.policy.MaxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// pruneLocked は期限切れのエントリを削除します。l.lock を保持して呼び出します。
func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for key, state := range l.attempts {
		if state.stale(now, l.policy.Window) {
			delete(l.attempts, key)
		}
	}
}

// stale はロックもウィンドウも過ぎたかを返します。
func (s *attemptState) stale(now time.Time, window time.Duration) bool {
	if !s.lockedUntil.IsZero() {
		return !now.Before(s.lockedUntil)
	}
	return now.Sub(s.firstAttempt) > window
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, key)
	return nil
}

const (
	attemptKeyPrefix = "login:attempts:"
	lockKeyPrefix    = "login:lock:"
)

// RedisLimiter は複数プロセスで状態を共有する AttemptLimiter です。
type RedisLimiter struct {
	rdb    *redis.Client
	policy LimiterPolicy
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb *redis.Client, policy LimiterPolicy) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, policy: policy}
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return 0, err
	}
	// キーなし(-2)・期限なし(-1)はロックしていない扱い
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) (int, error) {
	attemptKey := attemptKeyPrefix + key
	// カウンターと期限を同じトランザクションで設定し、期限のないカウンターを残さない
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, attemptKey)
	pipe.ExpireNX(ctx, attemptKey, l.policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	count := incr.Val()

	if int(count) >= l.policy.MaxAttempts {
		lockPipe := l.rdb.TxPipeline()
		lockPipe.Set(ctx, lockKeyPrefix+key, "1", l.policy.LockDuration)
		lockPipe.Del(ctx, attemptKey)
		if _, err := lockPipe.Exec(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return l.policy.MaxAttempts - int(count), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, attemptKeyPrefix+key, lockKeyPrefix+key).Err()
}
