package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/domain"
	testutil "github.com/jinford/ticket-rag/internal/core/domain/testing"
	"github.com/jinford/ticket-rag/internal/infra/memory"
)

func newTestIndexer(t *testing.T, embedder domain.Embedder, opts ...IndexerOption) (*Indexer, *memory.VectorIndex) {
	t.Helper()
	idx, err := memory.NewVectorIndex(embedder.Dimension())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]IndexerOption{WithIndexLogger(logger)}, opts...)
	return NewIndexer(idx, embedder, opts...), idx
}

func tickets(ids ...string) []domain.Ticket {
	out := make([]domain.Ticket, len(ids))
	for i, id := range ids {
		out[i] = domain.Ticket{ID: id, Subject: "subject " + id, Body: "body " + id}
	}
	return out
}

func TestIndexer_IndexTickets(t *testing.T) {
	ctx := context.Background()
	embedder := &testutil.MockEmbedder{}
	indexer, idx := newTestIndexer(t, embedder, WithIndexPipelineConfig(&PipelineConfig{BatchSize: 2}))

	result, err := indexer.IndexTickets(ctx, tickets("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Indexed)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, 2, embedder.EmbedBatchCalls)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIndexer_DuplicateIDsLastWins(t *testing.T) {
	ctx := context.Background()
	embedder := &testutil.MockEmbedder{}
	indexer, idx := newTestIndexer(t, embedder)

	input := []domain.Ticket{
		{ID: "a", Subject: "first", Body: "x"},
		{ID: "b", Subject: "other", Body: "y"},
		{ID: "a", Subject: "second", Body: "z"},
	}
	result, err := indexer.IndexTickets(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.Duplicates)

	vector, err := embedder.Embed(ctx, input[2].EmbeddingText())
	require.NoError(t, err)
	hits, err := idx.Query(ctx, vector, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		if h.ID == "a" {
			assert.Equal(t, "second", h.Ticket.Subject)
			assert.InDelta(t, 1.0, h.Score, 1e-6)
		}
	}
}

func TestIndexer_IsolatesInvalidRecords(t *testing.T) {
	ctx := context.Background()
	// 空テキストを含むバッチは全体が失敗する
	embedder := &testutil.MockEmbedder{}
	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		for _, text := range texts {
			if strings.TrimSpace(text) == "" {
				return nil, fmt.Errorf("batch rejected: %w", domain.ErrInvalidInput)
			}
		}
		return nil, errors.New("unexpected batch")
	}

	indexer, idx := newTestIndexer(t, embedder)
	input := tickets("a", "b")
	input = append(input, domain.Ticket{ID: "empty", Subject: "  ", Body: "\n"})

	result, err := indexer.IndexTickets(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Indexed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "empty", result.Skipped[0].ID)
	assert.Equal(t, 2, result.Skipped[0].Index)
	assert.Equal(t, []string{"empty"}, result.SkippedIDs())
	assert.Equal(t, 3, embedder.EmbedCalls)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIndexer_HaltsOnServiceFailure(t *testing.T) {
	ctx := context.Background()
	calls := 0
	embedder := &testutil.MockEmbedder{}
	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 2 {
			return nil, domain.ErrEmbeddingUnavailable
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, float32(i), 0, 0}
		}
		return out, nil
	}

	indexer, _ := newTestIndexer(t, embedder, WithIndexPipelineConfig(&PipelineConfig{BatchSize: 2}))
	result, err := indexer.IndexTickets(ctx, tickets("a", "b", "c", "d", "e"))

	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	require.NotNil(t, result)
	// 1バッチ目の2件は保存済み
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 2, calls)
}

func TestIndexer_HaltsOnDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	embedder := &testutil.MockEmbedder{
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{1, 2}
			}
			return out, nil
		},
	}

	indexer, _ := newTestIndexer(t, embedder)
	result, err := indexer.IndexTickets(ctx, tickets("a"))
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 0, result.Indexed)
}

func TestIndexer_RejectsEmbedderIndexDimensionMismatch(t *testing.T) {
	idx, err := memory.NewVectorIndex(8)
	require.NoError(t, err)
	indexer := NewIndexer(idx, &testutil.MockEmbedder{Dim: 4})

	_, err = indexer.IndexTickets(context.Background(), tickets("a"))
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestIndexer_IndexFile_MissingID(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, `[
		{"id": "t1", "subject": "SSL expired", "body": "cert expired", "resolution": "renewed cert"},
		{"subject": "no id here", "body": "lost"},
		{"id": "t2", "subject": "VPN down", "body": "cannot connect"}
	]`)

	indexer, idx := newTestIndexer(t, &testutil.MockEmbedder{})
	result, err := indexer.IndexFile(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Indexed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, 1, result.Skipped[0].Index)
	assert.Equal(t, "missing id", result.Skipped[0].Reason)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

type stubLock struct {
	held     bool
	released int
}

func (l *stubLock) TryAcquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if l.held {
		return nil, ErrLockHeld
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, nil
}

func TestIndexer_Lock(t *testing.T) {
	ctx := context.Background()
	lock := &stubLock{}
	indexer, _ := newTestIndexer(t, &testutil.MockEmbedder{}, WithIndexLock(lock, "tickets.json"))

	_, err := indexer.IndexTickets(ctx, tickets("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, lock.released)

	lock.held = true
	_, err = indexer.IndexTickets(ctx, tickets("b"))
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestIndexer_DeleteTicket(t *testing.T) {
	ctx := context.Background()
	indexer, idx := newTestIndexer(t, &testutil.MockEmbedder{})

	_, err := indexer.IndexTickets(ctx, tickets("a", "b"))
	require.NoError(t, err)

	require.NoError(t, indexer.DeleteTicket(ctx, "a"))
	require.NoError(t, indexer.DeleteTicket(ctx, "missing"))
	assert.ErrorIs(t, indexer.DeleteTicket(ctx, ""), domain.ErrInvalidInput)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
