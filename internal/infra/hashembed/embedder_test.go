package hashembed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

func newTestEmbedder(t *testing.T) *Embedder {
	t.Helper()
	e, err := New(DefaultDimension)
	require.NoError(t, err)
	return e
}

func TestEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e1 := newTestEmbedder(t)
	e2 := newTestEmbedder(t)

	v1, err := e1.Embed(ctx, "SSL certificate expired on the main site")
	require.NoError(t, err)
	v2, err := e2.Embed(ctx, "SSL certificate expired on the main site")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, DefaultDimension)
	assert.InDelta(t, 1.0, domain.CosineSimilarity(v1, v1), 1e-6)
}

func TestEmbedder_BatchMatchesSingle(t *testing.T) {
	ctx := context.Background()
	e := newTestEmbedder(t)
	texts := []string{"password reset link broken", "VPN disconnects every hour"}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	ctx := context.Background()
	e := newTestEmbedder(t)

	question, err := e.Embed(ctx, "How do I fix an expired certificate?")
	require.NoError(t, err)
	ssl, err := e.Embed(ctx, "SSL expired\n\ncert expired\n\nrenewed certificate")
	require.NoError(t, err)
	printer, err := e.Embed(ctx, "Printer jammed\n\npaper stuck in tray\n\ncleared the tray")
	require.NoError(t, err)

	assert.Greater(t, domain.CosineSimilarity(question, ssl), domain.CosineSimilarity(question, printer))
}

func TestEmbedder_InvalidInput(t *testing.T) {
	ctx := context.Background()
	e := newTestEmbedder(t)

	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := e.Embed(ctx, text)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "text %q", text)
	}

	_, err := e.EmbedBatch(ctx, []string{"valid text", ""})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = New(0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEmbedder_HonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEmbedder(t).Embed(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedder_NonBlankTextAlwaysEmbeds(t *testing.T) {
	ctx := context.Background()
	e := newTestEmbedder(t)

	tests := []struct {
		name string
		text string
	}{
		{name: "stopwords only", text: "Why is it?"},
		{name: "question of stopwords", text: "How can I?"},
		{name: "two stopwords", text: "It was"},
		{name: "punctuation only", text: "???"},
		{name: "mixed punctuation", text: "!!! ???"},
		{name: "single symbol", text: " ! "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v1, err := e.Embed(ctx, tt.text)
			require.NoError(t, err)
			v2, err := e.Embed(ctx, tt.text)
			require.NoError(t, err)

			assert.Equal(t, v1, v2)
			assert.Len(t, v1, DefaultDimension)
			assert.InDelta(t, 1.0, domain.CosineSimilarity(v1, v1), 1e-6)
		})
	}

	// ストップワードのみでも語が異なれば別のベクトルになる
	why, err := e.Embed(ctx, "Why is it?")
	require.NoError(t, err)
	how, err := e.Embed(ctx, "How can I?")
	require.NoError(t, err)
	assert.NotEqual(t, why, how)
}
