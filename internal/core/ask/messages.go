package ask

import (
	"errors"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

const (
	// NoticeNoMatches は関連チケットが見つからなかった場合の注意書き
	NoticeNoMatches = "No relevant tickets were found; the answer is based on the question alone."
	// NoticeTruncatedToQuery は関連チケットがコンテキスト予算に収まらなかった場合の注意書き
	NoticeTruncatedToQuery = "Relevant tickets were found but did not fit the context budget; the answer is based on the question alone."
)

// notice は回答に付与する注意書きを返す
func notice(matches []domain.Match, built BuiltContext) string {
	switch {
	case len(matches) == 0:
		return NoticeNoMatches
	case errors.Is(built.Warning, domain.ErrContextTruncatedToQuery):
		return NoticeTruncatedToQuery
	}
	return ""
}

// UserMessage はエラー種別に応じたユーザー向けメッセージを返す
func UserMessage(err error) string {
	switch domain.Kind(err) {
	case "":
		return ""
	case domain.KindInvalidInput:
		return "Your question could not be processed. Please check the question and the requested number of results."
	case domain.KindEmbeddingUnavailable:
		return "The search service is temporarily unavailable. Please try again later."
	case domain.KindIndexUnavailable:
		return "The ticket knowledge base is temporarily unavailable. Please try again later."
	case domain.KindDimensionMismatch:
		return "The ticket knowledge base is misconfigured. Please contact support."
	case domain.KindGenerationTimeout:
		return "No answer could be generated in time. Please try again or contact our support team."
	case domain.KindGenerationFailed:
		return "No answer could be generated right now. Please try rephrasing your question or contact support directly."
	default:
		return "An unexpected error occurred while processing your question. Please try again or contact our support team."
	}
}
