package tokenizer

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/ticket-rag/internal/core/ask"
)

// DefaultEncoding はトークン数の計算に使うエンコーディング
const DefaultEncoding = "cl100k_base"

// TokenCounter はトークン数をカウントする機能を提供する
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// インターフェース実装の確認
var _ ask.TokenCounter = (*TokenCounter)(nil)

// NewTokenCounter は新しいTokenCounterを作成する
// cl100k_baseエンコーディングを使用する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateCounter は文字数からトークン数を推定する
type EstimateCounter struct{}

// インターフェース実装の確認
var _ ask.TokenCounter = EstimateCounter{}

// CountTokens は推定トークン数を返す
func (EstimateCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens はテキストの推定トークン数を返す
// 英語は約4文字で1トークン、日本語は約1文字で1トークンのため、平均として3文字で1トークンとする
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 2) / 3
}

// New は tiktoken のカウンターを返す。エンコーディングを取得できない場合は推定値にフォールバックする
func New(logger *slog.Logger) ask.TokenCounter {
	tc, err := NewTokenCounter()
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("tiktoken が利用できないため推定トークン数を使用", "error", err)
		return EstimateCounter{}
	}
	return tc
}
