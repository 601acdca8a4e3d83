package ingestion

import (
	"context"
	"errors"
)

// ErrLockHeld は別のインデックス作成ジョブが実行中であることを示す
var ErrLockHeld = errors.New("index job already running")

// IndexLock はインデックス作成ジョブの同時実行を防ぐ。
// 検索などの読み取りはロックの影響を受けない
type IndexLock interface {
	// TryAcquire は key のロック取得を試み、解放関数を返す。
	// 既に保持されている場合は ErrLockHeld をラップしたエラーを返す
	TryAcquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// NoopLock は何もしない IndexLock
type NoopLock struct{}

// インターフェース実装の確認
var _ IndexLock = NoopLock{}

// TryAcquire は常に成功する
func (NoopLock) TryAcquire(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
