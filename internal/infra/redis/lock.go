package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
)

const lockPrefix = "ticket-rag:lock:"

// DefaultTTL はロックの既定の有効期限。プロセスが異常終了してもこの時間で解放される
const DefaultTTL = 30 * time.Minute

// Lock は Redis の SET NX によるインデックス作成ジョブの排他ロック
type Lock struct {
	client  *redis.Client
	ownerID string
	ttl     time.Duration
}

// インターフェース実装の確認
var _ ingestion.IndexLock = (*Lock)(nil)

// NewLock は Lock を作成する。ttl が0以下の場合は DefaultTTL を使う
func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{
		client:  client,
		ownerID: generateOwnerID(),
		ttl:     ttl,
	}
}

// generateOwnerID は hostname:pid:random 形式の所有者IDを生成する
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

// releaseScript は所有者が一致する場合のみキーを削除する
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// TryAcquire はロックの取得を試みる。他の所有者が保持している場合は ingestion.ErrLockHeld を返す
func (l *Lock) TryAcquire(ctx context.Context, name string) (func(context.Context) error, error) {
	key := lockPrefix + name
	ok, err := l.client.SetNX(ctx, key, l.ownerID, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingestion.ErrLockHeld, name)
	}

	release := func(ctx context.Context) error {
		_, err := releaseScript.Run(ctx, l.client, []string{key}, l.ownerID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		return nil
	}
	return release, nil
}

// Ping は Redis への疎通を確認する
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// OwnerID はこのインスタンスの所有者IDを返す
func (l *Lock) OwnerID() string {
	return l.ownerID
}
