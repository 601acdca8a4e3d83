package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLock_OwnerIDUnique(t *testing.T) {
	_, client := setupTestRedis(t)

	assert.NotEqual(t, NewLock(client, 0).OwnerID(), NewLock(client, 0).OwnerID())
}

func TestLock_TryAcquire(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	lock1 := NewLock(client, time.Minute)
	lock2 := NewLock(client, time.Minute)

	release, err := lock1.TryAcquire(ctx, "tickets.json")
	require.NoError(t, err)

	_, err = lock2.TryAcquire(ctx, "tickets.json")
	assert.ErrorIs(t, err, ingestion.ErrLockHeld)

	// 別のキーは独立している
	releaseOther, err := lock2.TryAcquire(ctx, "other.json")
	require.NoError(t, err)
	require.NoError(t, releaseOther(ctx))

	require.NoError(t, release(ctx))

	release2, err := lock2.TryAcquire(ctx, "tickets.json")
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestLock_ReleaseDoesNotStealOtherOwner(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	lock1 := NewLock(client, time.Second)
	lock2 := NewLock(client, time.Minute)

	release1, err := lock1.TryAcquire(ctx, "job")
	require.NoError(t, err)

	// lock1 の TTL が切れた後に lock2 が取得する
	mr.FastForward(2 * time.Second)
	release2, err := lock2.TryAcquire(ctx, "job")
	require.NoError(t, err)

	// 期限切れの lock1 を解放しても lock2 のロックは残る
	require.NoError(t, release1(ctx))
	assert.True(t, mr.Exists(lockPrefix+"job"))

	require.NoError(t, release2(ctx))
	assert.False(t, mr.Exists(lockPrefix+"job"))
}

func TestLock_Ping(t *testing.T) {
	mr, client := setupTestRedis(t)
	lock := NewLock(client, 0)

	require.NoError(t, lock.Ping(context.Background()))

	mr.Close()
	assert.Error(t, lock.Ping(context.Background()))
}
