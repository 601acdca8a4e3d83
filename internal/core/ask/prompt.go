package ask

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

const (
	// DefaultMaxTokens はプロンプト全体のデフォルトのトークン予算
	DefaultMaxTokens = 3000

	caseSeparator    = "--------------------------------------------------"
	sectionSeparator = "=================================================="
)

const instructions = `You are an expert customer support assistant with access to a comprehensive knowledge base of historical support tickets. Your role is to provide accurate, helpful, and actionable answers based on how similar issues have been resolved in the past.

IMPORTANT GUIDELINES:
- Provide a direct, helpful answer to the user's question
- Base your response primarily on the ticket resolutions provided below
- If the context doesn't contain enough information, supplement with general support knowledge
- Be concise but thorough in your explanations
- Include actionable steps when applicable
- Do NOT mention ticket IDs, scores, or refer to "the context below"
- Write as if you're directly answering the customer

`

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}

// ContextConfig は ContextBuilder の設定
type ContextConfig struct {
	// MaxTokens はプロンプト全体のトークン予算。0以下は無制限
	MaxTokens int
	// MaxTickets はプロンプトに含めるチケット数の上限。0以下は無制限
	MaxTickets int
	// DescriptionLimit は本文を切り詰める文字数。0以下は切り詰めない
	DescriptionLimit int
}

// DefaultContextConfig はデフォルト設定を返す
func DefaultContextConfig() ContextConfig {
	return ContextConfig{MaxTokens: DefaultMaxTokens}
}

// BuiltContext は構築したプロンプトと、含めた・落としたチケットの情報
type BuiltContext struct {
	Prompt   string
	Included []domain.Match
	Dropped  int
	Tokens   int
	// Warning は致命的でない警告（domain.ErrContextTruncatedToQuery）
	Warning error
}

// ContextBuilder は検索結果からトークン予算内のプロンプトを構築する
type ContextBuilder struct {
	counter TokenCounter
	config  ContextConfig
}

// NewContextBuilder は新しい ContextBuilder を作成する
func NewContextBuilder(counter TokenCounter, config ContextConfig) *ContextBuilder {
	return &ContextBuilder{counter: counter, config: config}
}

// Build は設定済みの上限でプロンプトを構築する
func (b *ContextBuilder) Build(question string, matches []domain.Match) BuiltContext {
	return b.BuildWithLimit(question, matches, b.config.MaxTickets)
}

// BuildWithLimit はチケット数の上限を指定してプロンプトを構築する。
// チケットは類似度順に丸ごと追加し、予算を超えた最初のチケット以降はすべて落とす
func (b *ContextBuilder) BuildWithLimit(question string, matches []domain.Match, maxTickets int) BuiltContext {
	if len(matches) == 0 {
		prompt := buildFallbackPrompt(question)
		return BuiltContext{Prompt: prompt, Included: []domain.Match{}, Tokens: b.counter.CountTokens(prompt)}
	}

	candidates := matches
	if maxTickets > 0 && len(candidates) > maxTickets {
		candidates = candidates[:maxTickets]
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("## User Question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\n## Relevant Support Cases:\n")
	sb.WriteString(sectionSeparator)
	sb.WriteString("\n")

	const footer = "\n## Your Response:\n"

	body := sb.String()
	included := make([]domain.Match, 0, len(candidates))
	tokens := 0
	for _, m := range candidates {
		next := body + b.formatCase(m)
		n := b.counter.CountTokens(next + footer)
		if !b.fits(n) {
			break
		}
		body = next
		tokens = n
		included = append(included, m)
	}

	if len(included) == 0 {
		return BuiltContext{
			Prompt:   question,
			Included: included,
			Dropped:  len(matches),
			Tokens:   b.counter.CountTokens(question),
			Warning:  domain.ErrContextTruncatedToQuery,
		}
	}

	return BuiltContext{
		Prompt:   body + footer,
		Included: included,
		Dropped:  len(matches) - len(included),
		Tokens:   tokens,
	}
}

func (b *ContextBuilder) fits(tokens int) bool {
	return b.config.MaxTokens <= 0 || tokens <= b.config.MaxTokens
}

// formatCase は1チケット分のブロックを整形する
func (b *ContextBuilder) formatCase(m domain.Match) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Case: %s\n", m.Ticket.Subject))
	sb.WriteString(fmt.Sprintf("Description: %s\n", truncateRunes(m.Ticket.Body, b.config.DescriptionLimit)))
	sb.WriteString(fmt.Sprintf("Resolution: %s\n", m.Ticket.Resolution))
	sb.WriteString(fmt.Sprintf("Relevance: %.1f%%\n", m.Score*100))
	sb.WriteString(caseSeparator)
	sb.WriteString("\n")
	return sb.String()
}

// buildFallbackPrompt は関連チケットがない場合のプロンプトを返す
func buildFallbackPrompt(question string) string {
	return fmt.Sprintf(`You are a helpful customer support assistant. The user has asked: %q

Unfortunately, no relevant historical support tickets were found for this question. Please provide a helpful response based on general support knowledge, and suggest that the user contact support directly for more specific assistance.

Answer:`, question)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
