// Package vectortest は domain.VectorIndex 実装に共通する振る舞いのテストを提供する
package vectortest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// Dimension は契約テストで使用するベクトル次元
const Dimension = 4

// Factory はテストごとに空のインデックスを作成する
type Factory func(t *testing.T, dimension int) domain.VectorIndex

// Doc はテスト用ドキュメントを作成する
func Doc(id string, vector ...float32) domain.Document {
	return domain.Document{
		ID:     id,
		Vector: vector,
		Ticket: domain.Ticket{
			ID:         id,
			Subject:    "subject " + id,
			Body:       "body " + id,
			Resolution: "resolution " + id,
		},
	}
}

// RunContract は VectorIndex の契約を検証するサブテスト群を実行する
func RunContract(t *testing.T, newIndex Factory) {
	t.Helper()

	t.Run("EmptyIndexReturnsEmpty", func(t *testing.T) {
		idx := newIndex(t, Dimension)
		hits, err := idx.Query(context.Background(), []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)

		count, err := idx.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("SelfRetrieval", func(t *testing.T) {
		ctx := context.Background()
		idx := newIndex(t, Dimension)
		require.NoError(t, idx.Upsert(ctx, Doc("a", 1, 0, 0, 0)))
		require.NoError(t, idx.Upsert(ctx, Doc("b", 0, 1, 0, 0)))
		require.NoError(t, idx.Upsert(ctx, Doc("c", 0.7, 0.7, 0, 0)))

		hits, err := idx.Query(ctx, []float32{0, 1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
		assert.Equal(t, "subject b", hits[0].Ticket.Subject)
	})

	t.Run("QueryReturnsTopKSorted", func(t *testing.T) {
		ctx := context.Background()
		idx := newIndex(t, Dimension)
		for i := 0; i < 6; i++ {
			v := []float32{1, float32(i), 0, 0}
			require.NoError(t, idx.Upsert(ctx, Doc(fmt.Sprintf("t%d", i), v...)))
		}

		for _, k := range []int{1, 3, 6} {
			hits, err := idx.Query(ctx, []float32{1, 0.5, 0, 0}, k)
			require.NoError(t, err)
			require.Len(t, hits, k)
			for i := 1; i < len(hits); i++ {
				assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
			}
		}

		// topK がインデックス件数を超える場合は全件
		hits, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 20)
		require.NoError(t, err)
		assert.Len(t, hits, 6)
	})

	t.Run("TiesOrderedByID", func(t *testing.T) {
		ctx := context.Background()
		idx := newIndex(t, Dimension)
		require.NoError(t, idx.Upsert(ctx, Doc("z", 0, 0, 1, 0)))
		require.NoError(t, idx.Upsert(ctx, Doc("m", 0, 0, 1, 0)))
		require.NoError(t, idx.Upsert(ctx, Doc("a", 0, 0, 1, 0)))

		hits, err := idx.Query(ctx, []float32{0, 0, 1, 0}, 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, []string{"a", "m", "z"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	})

	t.Run("ReupsertOverwrites", func(t *testing.T) {
		ctx := context.Background()
		idx := newIndex(t, Dimension)
		require.NoError(t, idx.Upsert(ctx, Doc("a", 1, 0, 0, 0)))

		updated := Doc("a", 1, 0, 0, 0)
		updated.Ticket.Resolution = "new resolution"
		require.NoError(t, idx.Upsert(ctx, updated))
		require.NoError(t, idx.Upsert(ctx, updated))

		hits, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "new resolution", hits[0].Ticket.Resolution)

		count, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		idx := newIndex(t, Dimension)
		require.NoError(t, idx.Upsert(ctx, Doc("a", 1, 0, 0, 0)))
		require.NoError(t, idx.Upsert(ctx, Doc("b", 0, 1, 0, 0)))

		require.NoError(t, idx.Delete(ctx, "a"))
		require.NoError(t, idx.Delete(ctx, "a"))
		require.NoError(t, idx.Delete(ctx, "does-not-exist"))

		hits, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ID)
	})

	t.Run("RejectsMismatchedDimension", func(t *testing.T) {
		ctx := context.Background()
		idx := newIndex(t, Dimension)
		assert.Equal(t, Dimension, idx.Dimension())

		err := idx.Upsert(ctx, Doc("a", 1, 0, 0))
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

		_, err = idx.Query(ctx, []float32{1, 0}, 1)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("ConcurrentQueries", func(t *testing.T) {
		ctx := context.Background()
		idx := newIndex(t, Dimension)
		for i := 0; i < 10; i++ {
			require.NoError(t, idx.Upsert(ctx, Doc(fmt.Sprintf("t%02d", i), float32(i), 1, 0, 0)))
		}

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hits, err := idx.Query(ctx, []float32{1, 1, 0, 0}, 3)
				if err == nil && len(hits) != 3 {
					err = fmt.Errorf("expected 3 hits, got %d", len(hits))
				}
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})
}
