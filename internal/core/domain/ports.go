package domain

import "context"

// Embedder はテキストを固定長ベクトルに変換する
type Embedder interface {
	// Embed は単一テキストの Embedding を生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch は複数テキストの Embedding を入力順に生成する
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension はベクトル次元数を返す
	Dimension() int

	// ModelName はモデル名を返す
	ModelName() string
}

// Document はインデックスに格納される (ベクトル, メタデータ) の組
type Document struct {
	ID     string
	Vector []float32
	Ticket Ticket
}

// Hit はベクトル検索の生結果
type Hit struct {
	ID     string
	Ticket Ticket
	Score  float64
}

// VectorIndex はベクトルの永続化と近傍検索を提供する
type VectorIndex interface {
	// Dimension はインデックス作成時に確定したベクトル次元数を返す
	Dimension() int

	// Upsert は ID をキーに挿入または置換する
	Upsert(ctx context.Context, doc Document) error

	// Query は類似度の高い順に最大 topK 件を返す。空のインデックスでは空スライスを返す
	Query(ctx context.Context, vector []float32, topK int) ([]Hit, error)

	// Delete は ID のエントリを削除する。存在しない ID は何もしない
	Delete(ctx context.Context, id string) error

	// Count は格納済みドキュメント数を返す
	Count(ctx context.Context) (int, error)

	// Close はリソースを解放する
	Close() error
}

// Generator はプロンプトから回答テキストを生成する
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
