package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout は回答生成のハードタイムアウト
	DefaultTimeout = 30 * time.Second

	// DefaultRetryBackoff はリトライ前の待機時間
	DefaultRetryBackoff = 2 * time.Second

	// DefaultTemperature は回答生成の温度
	DefaultTemperature = 0.3

	// DefaultMaxTokens は回答の最大トークン数
	DefaultMaxTokens = 800
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

// clientOptions は SDK クライアントの共通設定
type clientOptions struct {
	baseURL string
}

// newClient は SDK 内部のリトライを無効にしたクライアントを作成する
func newClient(apiKey string, o clientOptions) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	return openai.NewClient(opts...)
}

// Generator は OpenAI Chat Completions API を使用した回答生成の実装
type Generator struct {
	client       openai.Client
	model        string
	timeout      time.Duration
	retryBackoff time.Duration
	temperature  float64
	maxTokens    int
	logger       *slog.Logger
}

// インターフェース実装の確認
var _ domain.Generator = (*Generator)(nil)

type generatorOptions struct {
	model        string
	timeout      time.Duration
	retryBackoff time.Duration
	temperature  float64
	maxTokens    int
	logger       *slog.Logger
	client       clientOptions
}

// GeneratorOption は Generator のオプション設定
type GeneratorOption func(*generatorOptions)

// WithModel はモデル名を上書きする
func WithModel(model string) GeneratorOption {
	return func(o *generatorOptions) {
		o.model = model
	}
}

// WithTimeout は回答生成のタイムアウトを上書きする
func WithTimeout(timeout time.Duration) GeneratorOption {
	return func(o *generatorOptions) {
		o.timeout = timeout
	}
}

// WithRetryBackoff はリトライ前の待機時間を上書きする
func WithRetryBackoff(backoff time.Duration) GeneratorOption {
	return func(o *generatorOptions) {
		o.retryBackoff = backoff
	}
}

// WithTemperature は温度を上書きする
func WithTemperature(temperature float64) GeneratorOption {
	return func(o *generatorOptions) {
		o.temperature = temperature
	}
}

// WithMaxTokens は最大トークン数を上書きする
func WithMaxTokens(maxTokens int) GeneratorOption {
	return func(o *generatorOptions) {
		o.maxTokens = maxTokens
	}
}

// WithBaseURL は API のベースURLを上書きする
func WithBaseURL(baseURL string) GeneratorOption {
	return func(o *generatorOptions) {
		o.client.baseURL = baseURL
	}
}

// WithGeneratorLogger は Generator にロガーを設定する
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(o *generatorOptions) {
		o.logger = logger
	}
}

// NewGenerator は新しい Generator を作成する
func NewGenerator(apiKey string, opts ...GeneratorOption) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := generatorOptions{
		model:        DefaultModel,
		timeout:      DefaultTimeout,
		retryBackoff: DefaultRetryBackoff,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Generator{
		client:       newClient(apiKey, options.client),
		model:        options.model,
		timeout:      options.timeout,
		retryBackoff: options.retryBackoff,
		temperature:  options.temperature,
		maxTokens:    options.maxTokens,
		logger:       options.logger,
	}, nil
}

// ModelName はモデル名を返す
func (g *Generator) ModelName() string {
	return g.model
}

// Generate はプロンプトから回答を生成する。
// タイムアウトは ErrGenerationTimeout としてリトライせずに返す。
// レート制限・5xx・通信エラーは1回だけリトライし、それでも失敗した場合は ErrGenerationFailed を返す
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			g.logger.Warn("回答生成をリトライ", "backoff", g.retryBackoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", g.contextError(ctx, lastErr)
			case <-time.After(g.retryBackoff):
			}
		}

		text, err := g.complete(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", g.contextError(ctx, err)
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w: retry exhausted: %v", domain.ErrGenerationFailed, lastErr)
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", errEmptyCompletion
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", errEmptyCompletion
	}
	return content, nil
}

var errEmptyCompletion = errors.New("no completion content returned")

// contextError はコンテキスト終了時のエラーを返す。期限切れはタイムアウトとして扱う
func (g *Generator) contextError(ctx context.Context, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no answer within %s: %v", domain.ErrGenerationTimeout, g.timeout, cause)
	}
	return fmt.Errorf("generation canceled: %w", ctx.Err())
}

// isRetryable はリトライ対象のエラーかどうかを判定する
func isRetryable(err error) bool {
	if errors.Is(err, errEmptyCompletion) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	// HTTP レスポンスを得られなかった通信エラー
	return true
}
