package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// Retriever は質問に類似した過去チケットを検索する
type Retriever struct {
	repo           Repository
	embedder       Embedder
	collectionName string
}

// NewRetriever は新しい Retriever を作成する
func NewRetriever(repo Repository, embedder Embedder, collectionName string) *Retriever {
	return &Retriever{
		repo:           repo,
		embedder:       embedder,
		collectionName: collectionName,
	}
}

// ResolveTopK は指定値またはデフォルト値を返し、範囲外なら ErrInvalidInput を返す
func ResolveTopK(topK int) (int, error) {
	if topK < 1 || topK > MaxTopK {
		return 0, fmt.Errorf("%w: top_k must be between 1 and %d, got %d", domain.ErrInvalidInput, MaxTopK, topK)
	}
	return topK, nil
}

// Retrieve は質問を Embedding に変換して類似チケットを返す単独の入口。
// ask.Pipeline は状態を記録するため、同じ処理を EmbedQuestion と Search の2段階に分けて呼び出す。
// インデックスが空の場合はエラーではなく空のスライスを返す
func (s *Retriever) Retrieve(ctx context.Context, params SearchParams) ([]domain.Match, error) {
	topK, err := ResolveTopK(params.TopK.OrElse(DefaultTopK))
	if err != nil {
		return nil, err
	}

	vector, err := s.EmbedQuestion(ctx, params.Question)
	if err != nil {
		return nil, err
	}

	return s.Search(ctx, vector, topK)
}

// EmbedQuestion は質問文を検証して Embedding に変換する
func (s *Retriever) EmbedQuestion(ctx context.Context, question string) ([]float32, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	return vector, nil
}

// Search はベクトルで近傍検索を行い、スコアの降順（同点はIDの昇順）に並べた Match を返す
func (s *Retriever) Search(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	if _, err := ResolveTopK(topK); err != nil {
		return nil, err
	}

	hits, err := s.repo.Query(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	matches := make([]domain.Match, 0, len(hits))
	for _, h := range hits {
		ticket := h.Ticket
		if ticket.ID == "" {
			ticket.ID = h.ID
		}
		matches = append(matches, domain.Match{Ticket: ticket, Score: h.Score})
	}
	domain.SortMatches(matches)

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Stats はコレクションの統計情報を返す
func (s *Retriever) Stats(ctx context.Context) (*CollectionStats, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}

	status := StatusHealthy
	if count == 0 {
		status = StatusEmpty
	}
	return &CollectionStats{
		TotalTickets:   count,
		CollectionName: s.collectionName,
		Status:         status,
	}, nil
}
