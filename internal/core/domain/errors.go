package domain

import "errors"

var (
	// ErrInvalidInput は入力が不正な場合のエラー（空の質問、範囲外の top_k、不正なチケット等）
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable は Embedding バックエンドが利用できない場合のエラー
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrDimensionMismatch はベクトル次元がインデックスと一致しない場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexUnavailable はベクトルストアに到達できない場合のエラー
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationTimeout は回答生成がタイムアウトした場合のエラー
	ErrGenerationTimeout = errors.New("answer generation timed out")

	// ErrGenerationFailed は回答生成に失敗した場合のエラー
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrContextTruncatedToQuery はコンテキスト予算に収まるチケットが1件もなかったことを示す警告
	ErrContextTruncatedToQuery = errors.New("context truncated to question only")
)

// ErrorKind はエラー種別の安定した文字列表現
type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindEmbeddingUnavailable  ErrorKind = "embedding_unavailable"
	KindDimensionMismatch     ErrorKind = "dimension_mismatch"
	KindIndexUnavailable      ErrorKind = "index_unavailable"
	KindGenerationTimeout     ErrorKind = "generation_timeout"
	KindGenerationFailed      ErrorKind = "generation_failed"
	KindContextTruncatedQuery ErrorKind = "context_truncated_to_query"
	KindInternal              ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrEmbeddingUnavailable, KindEmbeddingUnavailable},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrIndexUnavailable, KindIndexUnavailable},
	{ErrGenerationTimeout, KindGenerationTimeout},
	{ErrGenerationFailed, KindGenerationFailed},
	{ErrContextTruncatedToQuery, KindContextTruncatedQuery},
}

// Kind はエラーチェーンから種別を判定する。該当がなければ KindInternal
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
