package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/ticket-rag/internal/core/domain"
	"github.com/jinford/ticket-rag/internal/core/search"
)

// DefaultGenerationTimeout は回答生成のデフォルトのタイムアウト
const DefaultGenerationTimeout = 30 * time.Second

// Pipeline は質問応答の RAG パイプラインを提供する。
// リクエスト間で状態を持たないため並行に呼び出せる
type Pipeline struct {
	retriever         *search.Retriever
	builder           *ContextBuilder
	generator         domain.Generator
	generationTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// PipelineOption は Pipeline のオプション設定
type PipelineOption func(*Pipeline)

// WithPipelineLogger は Pipeline にロガーを設定する
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithGenerationTimeout は回答生成のタイムアウトを設定する。0以下は無効
func WithGenerationTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.generationTimeout = d
	}
}

// NewPipeline は新しい Pipeline を作成する
func NewPipeline(
	retriever *search.Retriever,
	builder *ContextBuilder,
	generator domain.Generator,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		retriever:         retriever,
		builder:           builder,
		generator:         generator,
		generationTimeout: DefaultGenerationTimeout,
		logger:            slog.Default(),
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// Ask は質問に対して回答を生成する。失敗時は *StageError を返す
func (p *Pipeline) Ask(ctx context.Context, params AskParams) (*domain.Answer, error) {
	exec := p.Run(ctx, params)
	if exec.State != StateCompleted {
		return nil, exec.Err
	}
	return exec.Answer, nil
}

// execution は実行中の状態遷移を記録する
type execution struct {
	*Execution
	now     func() time.Time
	started time.Time
}

func (e *execution) transition(to State) {
	e.Transitions = append(e.Transitions, Transition{From: e.State, To: to, At: e.now()})
	e.State = to
}

func (e *execution) fail(err error) *Execution {
	stage := e.State
	e.transition(StateFailed)
	e.Err = &StageError{Stage: stage, Err: err}
	e.Duration = e.now().Sub(e.started)
	return e.Execution
}

// Run は Received から Completed または Failed までパイプラインを実行する。
// すべての状態遷移を時刻付きで記録し、失敗時は Failed で終了する
func (p *Pipeline) Run(ctx context.Context, params AskParams) *Execution {
	e := &execution{
		Execution: &Execution{RequestID: uuid.NewString(), State: StateReceived},
		now:       p.now,
		started:   p.now(),
	}
	logger := p.logger.With("requestID", e.RequestID)

	topK, contextLimit, err := validate(params)
	if err != nil {
		logger.Warn("不正なリクエスト", "error", err)
		return e.fail(err)
	}

	// 1. 質問の Embedding
	e.transition(StateEmbedding)
	vector, err := p.retriever.EmbedQuestion(ctx, params.Question)
	if err != nil {
		logger.Error("質問の Embedding に失敗", "error", err)
		return e.fail(err)
	}

	// 2. 類似チケット検索
	e.transition(StateRetrieving)
	matches, err := p.retriever.Search(ctx, vector, topK)
	if err != nil {
		logger.Error("チケット検索に失敗", "error", err)
		return e.fail(err)
	}

	// 3. コンテキスト構築
	e.transition(StateBuildingContext)
	built := p.builder.BuildWithLimit(params.Question, matches, contextLimit.OrElse(p.builder.config.MaxTickets))
	if built.Warning != nil {
		logger.Warn("コンテキストを質問のみに縮小", "retrieved", len(matches), "warning", built.Warning)
	}
	logger.Debug("コンテキストを構築",
		"retrieved", len(matches),
		"included", len(built.Included),
		"dropped", built.Dropped,
		"tokens", built.Tokens,
	)

	// 4. 回答生成
	e.transition(StateGenerating)
	text, err := p.generate(ctx, built.Prompt)
	if err != nil {
		logger.Error("回答の生成に失敗", "error", err)
		return e.fail(err)
	}

	e.transition(StateCompleted)
	e.Duration = e.now().Sub(e.started)
	e.Answer = &domain.Answer{
		RequestID:      e.RequestID,
		Text:           text,
		Matches:        built.Included,
		RetrievedCount: len(matches),
		Notice:         notice(matches, built),
		ProcessingTime: e.Duration,
	}

	logger.Info("回答を生成",
		"retrieved", len(matches),
		"included", len(built.Included),
		"duration", e.Duration,
	)
	return e.Execution
}

// generate はタイムアウト付きで回答を生成する
func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	genCtx := ctx
	if p.generationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.generationTimeout)
		defer cancel()
	}

	text, err := p.generator.Generate(genCtx, prompt)
	if err != nil {
		// 呼び出し元のキャンセルではなく生成のタイムアウトで打ち切られた場合
		if !errors.Is(err, domain.ErrGenerationTimeout) &&
			ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", domain.ErrGenerationTimeout, err)
		}
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty answer", domain.ErrGenerationFailed)
	}
	return text, nil
}

// validate はリクエストを検証し、検索件数とコンテキスト上限を返す
func validate(params AskParams) (int, mo.Option[int], error) {
	if strings.TrimSpace(params.Question) == "" {
		return 0, params.ContextLimit, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}

	topK, err := search.ResolveTopK(params.TopK.OrElse(search.DefaultTopK))
	if err != nil {
		return 0, params.ContextLimit, err
	}

	if limit, ok := params.ContextLimit.Get(); ok && limit < 1 {
		return 0, params.ContextLimit, fmt.Errorf("%w: context limit must be positive, got %d", domain.ErrInvalidInput, limit)
	}
	return topK, params.ContextLimit, nil
}
