package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// VectorIndex はプロセス内で完結するブルートフォースのコサイン類似度インデックス。
// 永続化しないため、テストや一時的な実行で使用する
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]domain.Document
}

// NewVectorIndex は指定次元の空インデックスを作成する
func NewVectorIndex(dimension int) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrInvalidInput, dimension)
	}
	return &VectorIndex{
		dimension: dimension,
		docs:      make(map[string]domain.Document),
	}, nil
}

func (x *VectorIndex) Dimension() int {
	return x.dimension
}

func (x *VectorIndex) Upsert(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	if err := domain.CheckDimension(x.dimension, doc.Vector); err != nil {
		return err
	}

	// 呼び出し側のスライス変更の影響を受けないようコピーする
	vector := make([]float32, len(doc.Vector))
	copy(vector, doc.Vector)
	doc.Vector = vector

	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs[doc.ID] = doc
	return nil
}

func (x *VectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrInvalidInput, topK)
	}
	if err := domain.CheckDimension(x.dimension, vector); err != nil {
		return nil, err
	}

	x.mu.RLock()
	hits := make([]domain.Hit, 0, len(x.docs))
	for id, doc := range x.docs {
		hits = append(hits, domain.Hit{
			ID:     id,
			Ticket: doc.Ticket,
			Score:  domain.CosineSimilarity(vector, doc.Vector),
		})
	}
	x.mu.RUnlock()

	domain.SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (x *VectorIndex) Delete(ctx context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.docs, id)
	return nil
}

func (x *VectorIndex) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs), nil
}

func (x *VectorIndex) Close() error {
	return nil
}

// インターフェース実装の確認
var _ domain.VectorIndex = (*VectorIndex)(nil)
