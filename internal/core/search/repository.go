package search

import (
	"context"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// Repository は検索で使用するベクトルインデックスの読み取り操作
type Repository interface {
	// Query は類似度の高い順に最大 topK 件を返す
	Query(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error)

	// Count は格納済みチケット数を返す
	Count(ctx context.Context) (int, error)
}

// Embedder は質問文の Embedding 生成インターフェース
type Embedder interface {
	// Embed は単一テキストの Embedding を生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}
