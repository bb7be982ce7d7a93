package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(maxAttempts int) (*MemoryLimiter, *time.Time) {
	clock := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(LimiterOptions{
		MaxAttempts:  maxAttempts,
		Window:       15 * time.Minute,
		LockDuration: 10 * time.Minute,
	})
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestMemoryLimiterLocksAfterMaxAttempts(t *testing.T) {
	l, clock := newTestLimiter(3)
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		retry, err := l.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.Zero(t, retry)

		remaining, err := l.RecordFailure(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, want, remaining)
	}

	retry, err := l.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, retry)

	// 別のクライアントには影響しない
	retry, err = l.Check(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.Zero(t, retry)

	*clock = clock.Add(10 * time.Minute)
	retry, err = l.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, retry)
}

func TestMemoryLimiterWindowExpires(t *testing.T) {
	l, clock := newTestLimiter(3)
	ctx := context.Background()

	_, _ = l.RecordFailure(ctx, "ip")
	_, _ = l.RecordFailure(ctx, "ip")

	*clock = clock.Add(16 * time.Minute)
	remaining, err := l.RecordFailure(ctx, "ip")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestMemoryLimiterReset(t *testing.T) {
	l, _ := newTestLimiter(2)
	ctx := context.Background()

	_, _ = l.RecordFailure(ctx, "ip")
	require.NoError(t, l.Reset(ctx, "ip"))

	remaining, err := l.RecordFailure(ctx, "ip")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestMemoryLimiterSweepsExpiredEntries(t *testing.T) {
	l, clock := newTestLimiter(3)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := l.RecordFailure(ctx, fmt.Sprintf("10.0.0.%d", i))
		require.NoError(t, err)
	}
	// ロック中のクライアントは残る
	for i := 0; i < 3; i++ {
		_, _ = l.RecordFailure(ctx, "locked")
	}
	require.Len(t, l.attempts, 101)

	*clock = clock.Add(16 * time.Minute)
	_, err := l.RecordFailure(ctx, "new")
	require.NoError(t, err)

	assert.Len(t, l.attempts, 2)
	assert.Contains(t, l.attempts, "locked")
	assert.Contains(t, l.attempts, "new")
}

func TestMemoryLimiterDisabled(t *testing.T) {
	l, _ := newTestLimiter(0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := l.RecordFailure(ctx, "ip")
		require.NoError(t, err)
	}
	retry, err := l.Check(ctx, "ip")
	require.NoError(t, err)
	assert.Zero(t, retry)
}

func TestNewLimiterSelectsBackend(t *testing.T) {
	l, err := NewLimiter("", LimiterOptions{MaxAttempts: 1})
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, l)

	l, err = NewLimiter("redis://127.0.0.1:6379/0", LimiterOptions{MaxAttempts: 1})
	require.NoError(t, err)
	assert.IsType(t, &RedisLimiter{}, l)

	_, err = NewLimiter("://bad", LimiterOptions{})
	assert.Error(t, err)
}

func newRedisTestLimiter(t *testing.T, maxAttempts int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisLimiter(rdb, LimiterOptions{
		MaxAttempts:  maxAttempts,
		Window:       15 * time.Minute,
		LockDuration: 10 * time.Minute,
	}), mr
}

func TestRedisLimiterLocksAfterMaxAttempts(t *testing.T) {
	l, mr := newRedisTestLimiter(t, 3)
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		retry, err := l.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.Zero(t, retry)

		remaining, err := l.RecordFailure(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, want, remaining)
	}

	retry, err := l.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, retry)
	assert.False(t, mr.Exists(failKeyPrefix+"1.2.3.4"))

	retry, err = l.Check(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.Zero(t, retry)

	mr.FastForward(10 * time.Minute)
	retry, err = l.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, retry)
}

func TestRedisLimiterWindowExpires(t *testing.T) {
	l, mr := newRedisTestLimiter(t, 3)
	ctx := context.Background()

	_, err := l.RecordFailure(ctx, "ip")
	require.NoError(t, err)
	_, err = l.RecordFailure(ctx, "ip")
	require.NoError(t, err)

	// 期限は最初の失敗時にだけ設定される
	assert.Equal(t, 15*time.Minute, mr.TTL(failKeyPrefix+"ip"))

	mr.FastForward(16 * time.Minute)
	remaining, err := l.RecordFailure(ctx, "ip")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
	assert.Equal(t, 15*time.Minute, mr.TTL(failKeyPrefix+"ip"))
}

func TestRedisLimiterReset(t *testing.T) {
	l, _ := newRedisTestLimiter(t, 2)
	ctx := context.Background()

	_, _ = l.RecordFailure(ctx, "ip")
	_, _ = l.RecordFailure(ctx, "ip")
	retry, err := l.Check(ctx, "ip")
	require.NoError(t, err)
	require.Positive(t, retry)

	require.NoError(t, l.Reset(ctx, "ip"))
	retry, err = l.Check(ctx, "ip")
	require.NoError(t, err)
	assert.Zero(t, retry)

	remaining, err := l.RecordFailure(ctx, "ip")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestRedisLimiterDisabledAndUnavailable(t *testing.T) {
	l, mr := newRedisTestLimiter(t, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.RecordFailure(ctx, "ip")
		require.NoError(t, err)
	}
	assert.Empty(t, mr.Keys())

	l.opts.MaxAttempts = 3
	mr.Close()
	_, err := l.Check(ctx, "ip")
	assert.Error(t, err)
	_, err = l.RecordFailure(ctx, "ip")
	assert.Error(t, err)
}
