// Package hashembed は外部サービスを使わない決定的な Embedder を提供する。
// 単語のユニグラムとバイグラムを符号付きハッシュで固定次元に射影する。
// 単語を含まないテキストは文字 n-gram を使う
package hashembed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

const (
	// DefaultDimension はデフォルトのベクトル次元
	DefaultDimension = 384
	// ModelName はインデックスのメタデータに記録するモデル名
	ModelName = "hashembed-v1"

	bigramWeight  = 0.5
	charNgramSize = 3
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

// Embedder は特徴量ハッシュによる Embedder
type Embedder struct {
	dimension int
	stopwords map[string]struct{}
}

// インターフェース実装の確認
var _ domain.Embedder = (*Embedder)(nil)

// New は次元数を指定して Embedder を作成する
func New(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrInvalidInput, dimension)
	}
	return &Embedder{dimension: dimension, stopwords: defaultStopwords()}, nil
}

// Embed はテキストを L2 正規化したベクトルに変換する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: text is empty", domain.ErrInvalidInput)
	}

	vec := make([]float64, e.dimension)
	if tokens := e.tokenize(trimmed); len(tokens) > 0 {
		for i, tok := range tokens {
			e.add(vec, tok, 1)
			if i > 0 {
				e.add(vec, tokens[i-1]+" "+tok, bigramWeight)
			}
		}
	} else {
		// 単語を含まないテキストは文字 n-gram で表現する
		for _, gram := range charNgrams(trimmed, charNgramSize) {
			e.add(vec, gram, 1)
		}
	}

	norm := l2(vec)
	if norm == 0 {
		// 符号付きの特徴量が打ち消し合った場合はテキスト全体のハッシュ位置を立てる
		vec[e.bucket(trimmed)] = 1
		norm = 1
	}

	out := make([]float32, e.dimension)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// EmbedBatch は入力順に Embedding を生成する
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text at position %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return ModelName
}

// add は特徴量をハッシュして符号付きで加算する
func (e *Embedder) add(vec []float64, feature string, weight float64) {
	sum := hash64(feature)
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[int(sum%uint64(e.dimension))] += weight
}

func (e *Embedder) bucket(feature string) int {
	return int(hash64(feature) % uint64(e.dimension))
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func l2(vec []float64) float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// tokenize は単語を抽出してストップワードを除く。
// すべてストップワードの場合は除去前の単語を使う
func (e *Embedder) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		tokens = append(tokens, stem(tok))
	}
	if len(tokens) == 0 {
		for _, tok := range raw {
			tokens = append(tokens, stem(tok))
		}
	}
	return tokens
}

// charNgrams は文字単位の n-gram を返す。n 文字未満のテキストはそのまま1つの特徴量とする
func charNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) <= n {
		return []string{"#" + text}
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, "#"+string(runes[i:i+n]))
	}
	return grams
}

// stem は英語の単純な語尾（複数形・過去形・進行形）を取り除く
func stem(tok string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if len(tok) > len(suffix)+2 && strings.HasSuffix(tok, suffix) {
			return strings.TrimSuffix(tok, suffix)
		}
	}
	return tok
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "of", "to", "in", "on", "for",
		"with", "at", "by", "from", "is", "are", "was", "were", "be", "been", "it", "this", "that",
		"i", "you", "we", "they", "he", "she", "my", "our", "your", "do", "does", "did", "how",
		"what", "when", "where", "why", "can", "could", "should", "would", "me", "so", "as", "not",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
