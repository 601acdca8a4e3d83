package testing

import (
	"context"
	"strings"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// MockEmbedder はテスト用のモック Embedder です。
// Func が未設定の場合はテキストから決定的なベクトルを返します
type MockEmbedder struct {
	Dim            int
	Model          string
	EmbedFunc      func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

	EmbedCalls      int
	EmbedBatchCalls int
}

// インターフェース実装の確認
var _ domain.Embedder = (*MockEmbedder)(nil)

// Embed は Embed のモック実装です
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.EmbedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return m.vector(text)
}

// EmbedBatch は EmbedBatch のモック実装です
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.EmbedBatchCalls++
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.vector(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension は次元数を返します
func (m *MockEmbedder) Dimension() int {
	if m.Dim == 0 {
		return 4
	}
	return m.Dim
}

// ModelName はモデル名を返します
func (m *MockEmbedder) ModelName() string {
	if m.Model == "" {
		return "mock-embedder"
	}
	return m.Model
}

// vector は文字コードの和を次元ごとに振り分けた決定的なベクトルを返します
func (m *MockEmbedder) vector(text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrInvalidInput
	}
	v := make([]float32, m.Dimension())
	for i, r := range text {
		v[i%len(v)] += float32(r % 31)
	}
	return v, nil
}

// MockGenerator はテスト用のモック Generator です
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	LastPrompt string
	Calls      int
}

// インターフェース実装の確認
var _ domain.Generator = (*MockGenerator)(nil)

// Generate は Generate のモック実装です
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.Calls++
	m.LastPrompt = prompt
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "mock answer", nil
}

// MockVectorIndex はテスト用のモック VectorIndex です。
// 未設定の Func は空の結果を返します
type MockVectorIndex struct {
	Dim        int
	UpsertFunc func(ctx context.Context, doc domain.Document) error
	QueryFunc  func(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error)
	DeleteFunc func(ctx context.Context, id string) error
	CountFunc  func(ctx context.Context) (int, error)
}

// インターフェース実装の確認
var _ domain.VectorIndex = (*MockVectorIndex)(nil)

// Dimension は次元数を返します
func (m *MockVectorIndex) Dimension() int {
	if m.Dim == 0 {
		return 4
	}
	return m.Dim
}

// Upsert は Upsert のモック実装です
func (m *MockVectorIndex) Upsert(ctx context.Context, doc domain.Document) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, doc)
	}
	return nil
}

// Query は Query のモック実装です
func (m *MockVectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, vector, topK)
	}
	return []domain.Hit{}, nil
}

// Delete は Delete のモック実装です
func (m *MockVectorIndex) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// Count は Count のモック実装です
func (m *MockVectorIndex) Count(ctx context.Context) (int, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx)
	}
	return 0, nil
}

// Close は何もしません
func (m *MockVectorIndex) Close() error {
	return nil
}
