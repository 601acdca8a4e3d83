package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
)

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}

// AdvisoryLock はセッションスコープのアドバイザリロックでインデックス作成ジョブを排他制御します。
// ロック保持中は専用のコネクションをプールから借り続ける
type AdvisoryLock struct {
	pool *pgxpool.Pool
}

// インターフェース実装の確認
var _ ingestion.IndexLock = (*AdvisoryLock)(nil)

// NewAdvisoryLock は AdvisoryLock を作成します
func NewAdvisoryLock(pool *pgxpool.Pool) *AdvisoryLock {
	return &AdvisoryLock{pool: pool}
}

// TryAcquire はロックの取得を試みます。
// 他のプロセスが保持している場合は ingestion.ErrLockHeld を返します
func (l *AdvisoryLock) TryAcquire(ctx context.Context, key string) (func(context.Context) error, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	lockID := GenerateLockID("ticket-rag:index", key)

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: %s", ingestion.ErrLockHeld, key)
	}

	release := func(ctx context.Context) error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			return fmt.Errorf("failed to release advisory lock: %w", err)
		}
		return nil
	}
	return release, nil
}
