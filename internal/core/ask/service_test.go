package ask

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/domain"
	testutil "github.com/jinford/ticket-rag/internal/core/domain/testing"
	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/infra/memory"
)

type pipelineFixture struct {
	pipeline  *Pipeline
	embedder  *testutil.MockEmbedder
	generator *testutil.MockGenerator
	index     *memory.VectorIndex
}

func newPipelineFixture(t *testing.T, config ContextConfig, opts ...PipelineOption) *pipelineFixture {
	t.Helper()

	embedder := &testutil.MockEmbedder{}
	idx, err := memory.NewVectorIndex(embedder.Dimension())
	require.NoError(t, err)
	generator := &testutil.MockGenerator{}

	opts = append([]PipelineOption{WithPipelineLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	pipeline := NewPipeline(
		search.NewRetriever(idx, embedder, "support_tickets"),
		NewContextBuilder(byteCounter{}, config),
		generator,
		opts...,
	)
	return &pipelineFixture{pipeline: pipeline, embedder: embedder, generator: generator, index: idx}
}

func (f *pipelineFixture) seed(t *testing.T, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for i, id := range ids {
		ticket := domain.Ticket{ID: id, Subject: "subject " + id, Body: "body " + id, Resolution: "fix " + id}
		vector := []float32{1, float32(i) * 0.1, 0, 0}
		require.NoError(t, f.index.Upsert(ctx, domain.Document{ID: id, Vector: vector, Ticket: ticket}))
	}
}

func TestPipeline_Completed(t *testing.T) {
	f := newPipelineFixture(t, DefaultContextConfig())
	f.seed(t, "t1", "t2", "t3", "t4")
	f.generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "  Renew the certificate.  ", nil
	}

	exec := f.pipeline.Run(context.Background(), AskParams{Question: "expired cert?", TopK: mo.Some(2)})

	require.NoError(t, exec.Err)
	assert.Equal(t, StateCompleted, exec.State)
	assert.True(t, exec.State.IsTerminal())
	assert.Equal(t, []State{
		StateReceived, StateEmbedding, StateRetrieving, StateBuildingContext, StateGenerating, StateCompleted,
	}, exec.States())
	for i := 1; i < len(exec.Transitions); i++ {
		assert.Equal(t, exec.Transitions[i-1].To, exec.Transitions[i].From)
		assert.False(t, exec.Transitions[i].At.Before(exec.Transitions[i-1].At))
	}

	answer := exec.Answer
	require.NotNil(t, answer)
	assert.NotEmpty(t, exec.RequestID)
	assert.Equal(t, exec.RequestID, answer.RequestID)
	assert.Equal(t, "Renew the certificate.", answer.Text)
	assert.Len(t, answer.Matches, 2)
	assert.Equal(t, 2, answer.RetrievedCount)
	assert.Empty(t, answer.Notice)
	assert.Equal(t, exec.Duration, answer.ProcessingTime)
	assert.Contains(t, f.generator.LastPrompt, "expired cert?")
}

func TestPipeline_ContextLimitIsIndependentOfTopK(t *testing.T) {
	f := newPipelineFixture(t, DefaultContextConfig())
	f.seed(t, "t1", "t2", "t3", "t4", "t5")

	answer, err := f.pipeline.Ask(context.Background(), AskParams{
		Question:     "q",
		TopK:         mo.Some(5),
		ContextLimit: mo.Some(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, answer.RetrievedCount)
	assert.Len(t, answer.Matches, 2)
}

func TestPipeline_EmptyIndexIsAnswerable(t *testing.T) {
	f := newPipelineFixture(t, DefaultContextConfig())

	answer, err := f.pipeline.Ask(context.Background(), AskParams{Question: "anything?"})
	require.NoError(t, err)

	assert.Empty(t, answer.Matches)
	assert.Equal(t, NoticeNoMatches, answer.Notice)
	assert.Contains(t, f.generator.LastPrompt, "no relevant historical support tickets were found")
}

func TestPipeline_TruncatedToQueryNotice(t *testing.T) {
	f := newPipelineFixture(t, ContextConfig{MaxTokens: 50})
	f.seed(t, "t1")

	answer, err := f.pipeline.Ask(context.Background(), AskParams{Question: "short?"})
	require.NoError(t, err)
	assert.Equal(t, NoticeTruncatedToQuery, answer.Notice)
	assert.Equal(t, "short?", f.generator.LastPrompt)
	assert.Equal(t, 1, answer.RetrievedCount)
}

func TestPipeline_GenerationTimeout(t *testing.T) {
	f := newPipelineFixture(t, DefaultContextConfig(), WithGenerationTimeout(20*time.Millisecond))
	f.seed(t, "t1")
	f.generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "partial", ctx.Err()
	}

	exec := f.pipeline.Run(context.Background(), AskParams{Question: "slow?"})

	assert.Equal(t, StateFailed, exec.State)
	assert.True(t, exec.State.IsTerminal())
	assert.Nil(t, exec.Answer)
	require.ErrorIs(t, exec.Err, domain.ErrGenerationTimeout)

	var stageErr *StageError
	require.ErrorAs(t, exec.Err, &stageErr)
	assert.Equal(t, StateGenerating, stageErr.Stage)
	assert.Equal(t, 1, f.generator.Calls)
	assert.Equal(t, StateFailed, exec.States()[len(exec.States())-1])
}

func TestPipeline_Failures(t *testing.T) {
	tests := []struct {
		name      string
		params    AskParams
		setup     func(f *pipelineFixture)
		wantErr   error
		wantStage State
	}{
		{
			name:      "blank question",
			params:    AskParams{Question: " "},
			wantErr:   domain.ErrInvalidInput,
			wantStage: StateReceived,
		},
		{
			name:      "top_k out of range",
			params:    AskParams{Question: "q", TopK: mo.Some(search.MaxTopK + 1)},
			wantErr:   domain.ErrInvalidInput,
			wantStage: StateReceived,
		},
		{
			name:      "context limit zero",
			params:    AskParams{Question: "q", ContextLimit: mo.Some(0)},
			wantErr:   domain.ErrInvalidInput,
			wantStage: StateReceived,
		},
		{
			name:   "embedding unavailable",
			params: AskParams{Question: "q"},
			setup: func(f *pipelineFixture) {
				f.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
					return nil, domain.ErrEmbeddingUnavailable
				}
			},
			wantErr:   domain.ErrEmbeddingUnavailable,
			wantStage: StateEmbedding,
		},
		{
			name:   "dimension mismatch",
			params: AskParams{Question: "q"},
			setup: func(f *pipelineFixture) {
				f.embedder.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
					return []float32{1, 2}, nil
				}
			},
			wantErr:   domain.ErrDimensionMismatch,
			wantStage: StateRetrieving,
		},
		{
			name:   "generation failed",
			params: AskParams{Question: "q"},
			setup: func(f *pipelineFixture) {
				f.generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
					return "", domain.ErrGenerationFailed
				}
			},
			wantErr:   domain.ErrGenerationFailed,
			wantStage: StateGenerating,
		},
		{
			name:   "empty answer",
			params: AskParams{Question: "q"},
			setup: func(f *pipelineFixture) {
				f.generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
					return " \n", nil
				}
			},
			wantErr:   domain.ErrGenerationFailed,
			wantStage: StateGenerating,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t, DefaultContextConfig())
			f.seed(t, "t1")
			if tt.setup != nil {
				tt.setup(f)
			}

			answer, err := f.pipeline.Ask(context.Background(), tt.params)
			assert.Nil(t, answer)
			require.ErrorIs(t, err, tt.wantErr)

			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tt.wantStage, stageErr.Stage)
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))

	timeout := UserMessage(&StageError{Stage: StateGenerating, Err: domain.ErrGenerationTimeout})
	assert.Contains(t, timeout, "No answer could be generated")
	assert.NotEqual(t, NoticeNoMatches, timeout)

	assert.Contains(t, UserMessage(domain.ErrInvalidInput), "could not be processed")
	assert.Contains(t, UserMessage(errors.New("boom")), "unexpected error")
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range []State{StateReceived, StateEmbedding, StateRetrieving, StateBuildingContext, StateGenerating} {
		assert.False(t, s.IsTerminal(), "state %s", s)
	}
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}
