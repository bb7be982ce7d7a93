package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter はログイン失敗回数を数え、一定回数を超えたクライアントをロックします。
type Limiter interface {
	// Check はロック中であれば解除までの残り時間を返します。
	Check(ctx context.Context, key string) (time.Duration, error)
	// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
	RecordFailure(ctx context.Context, key string) (int, error)
	// Reset は失敗回数をリセットします。
	Reset(ctx context.Context, key string) error
}

// LimiterOptions はログイン試行制限の設定です。
type LimiterOptions struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

func (s *attemptState) expired(now time.Time, window time.Duration) bool {
	return now.Sub(s.firstAttempt) > window && !now.Before(s.lockedUntil)
}

// MemoryLimiter はプロセス内で試行回数を管理します。
type MemoryLimiter struct {
	opts      LimiterOptions
	now       func() time.Time
	lock      sync.Mutex
	attempts  map[string]*attemptState
	lastSweep time.Time
}

// NewMemoryLimiter は MemoryLimiter を作成します。MaxAttempts が 0 の場合は制限しません。
func NewMemoryLimiter(opts LimiterOptions) *MemoryLimiter {
	return &MemoryLimiter{
		opts:     opts,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

// Check はロック中であれば解除までの残り時間を返します。
func (l *MemoryLimiter) Check(_ context.Context, key string) (time.Duration, error) {
	if l.opts.MaxAttempts <= 0 {
		return 0, nil
	}
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

// RecordFailure は失敗を記録し、ロックまでの残り回数を返します。
// 期間を過ぎた記録はこのときにまとめて削除します。
func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) (int, error) {
	if l.opts.MaxAttempts <= 0 {
		return 0, nil
	}
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	l.sweep(now)

	state, ok := l.attempts[key]
	if !ok || state.expired(now, l.opts.Window) {
		state = &attemptState{firstAttempt: now}
		l.attempts[key] = state
	}

	state.count++
	if state.count >= l.opts.MaxAttempts {
		state.lockedUntil = now.Add(l.opts.LockDuration)
		state.count = l.opts.MaxAttempts
	}

	remaining := l.opts.MaxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset は失敗回数をリセットします。
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, key)
	return nil
}

// sweep は期間切れの記録を削除します。実行は Window ごとに1回までです。
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.opts.Window {
		return
	}
	l.lastSweep = now
	for key, state := range l.attempts {
		if state.expired(now, l.opts.Window) {
			delete(l.attempts, key)
		}
	}
}

const (
	failKeyPrefix = "login:fail:"
	lockKeyPrefix = "login:lock:"
)

// RedisLimiter は Redis に試行回数を保存し、複数インスタンス間で共有します。
type RedisLimiter struct {
	rdb  *redis.Client
	opts LimiterOptions
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb *redis.Client, opts LimiterOptions) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, opts: opts}
}

// Check はロックキーの残り TTL を解除までの時間として返します。
func (l *RedisLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	if l.opts.MaxAttempts <= 0 {
		return 0, nil
	}
	ttl, err := l.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read lock ttl: %w", err)
	}
	// キーが存在しない場合は負の値が返る
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure は失敗回数を加算し、MaxAttempts に達したらロックキーを作成します。
// 失敗回数のキーは最初の失敗から Window で失効します。
func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) (int, error) {
	if l.opts.MaxAttempts <= 0 {
		return 0, nil
	}
	failKey := failKeyPrefix + key

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, failKey)
	ttl := pipe.PTTL(ctx, failKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}
	// 有効期限のないキーにだけ期限を設定する（EXPIRE NX は Redis 7 以降のため使わない）
	if ttl.Val() < 0 {
		if err := l.rdb.PExpire(ctx, failKey, l.opts.Window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set failure window: %w", err)
		}
	}

	count := int(incr.Val())
	if count < l.opts.MaxAttempts {
		return l.opts.MaxAttempts - count, nil
	}

	pipe = l.rdb.TxPipeline()
	pipe.Set(ctx, lockKeyPrefix+key, 1, l.opts.LockDuration)
	pipe.Del(ctx, failKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to lock login: %w", err)
	}
	return 0, nil
}

// Reset は失敗回数とロックを削除します。
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, failKeyPrefix+key, lockKeyPrefix+key).Err()
}

// NewLimiter は redisURL が指定されていれば Redis、そうでなければメモリ上の Limiter を返します。
func NewLimiter(redisURL string, opts LimiterOptions) (Limiter, error) {
	if redisURL == "" {
		return NewMemoryLimiter(opts), nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisLimiter(redis.NewClient(opt), opts), nil
}
