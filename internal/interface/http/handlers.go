package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/samber/mo"

	"github.com/jinford/ticket-rag/internal/core/ask"
	"github.com/jinford/ticket-rag/internal/core/domain"
)

// maxRequestBody はリクエストボディの上限
const maxRequestBody = 1 << 20

// AnswerRequest は POST /answer のリクエスト
type AnswerRequest struct {
	Question     string `json:"question"`
	TopK         *int   `json:"top_k,omitempty"`
	ContextLimit *int   `json:"context_limit,omitempty"`
}

// MatchResponse は回答の根拠となったチケット
type MatchResponse struct {
	ID         string  `json:"id"`
	Subject    string  `json:"subject"`
	Body       string  `json:"body"`
	Resolution string  `json:"resolution"`
	Score      float64 `json:"score"`
}

// AnswerResponse は POST /answer のレスポンス
type AnswerResponse struct {
	RequestID      string          `json:"request_id"`
	Answer         string          `json:"answer"`
	Matches        []MatchResponse `json:"matches"`
	ProcessingTime float64         `json:"processing_time"` // 秒
	Notice         string          `json:"notice,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{
			Error:  ask.UserMessage(domain.ErrInvalidInput),
			Kind:   string(domain.KindInvalidInput),
			Detail: "invalid request body: " + err.Error(),
		})
		return
	}

	exec := s.asker.Run(r.Context(), ask.AskParams{
		Question:     req.Question,
		TopK:         mo.PointerToOption(req.TopK),
		ContextLimit: mo.PointerToOption(req.ContextLimit),
	})
	if exec.State != ask.StateCompleted {
		s.writeExecutionError(w, exec)
		return
	}

	answer := exec.Answer
	resp := AnswerResponse{
		RequestID:      answer.RequestID,
		Answer:         answer.Text,
		Matches:        make([]MatchResponse, 0, len(answer.Matches)),
		ProcessingTime: answer.ProcessingTime.Seconds(),
		Notice:         answer.Notice,
	}
	for _, m := range answer.Matches {
		resp.Matches = append(resp.Matches, MatchResponse{
			ID:         m.Ticket.ID,
			Subject:    m.Ticket.Subject,
			Body:       m.Ticket.Body,
			Resolution: m.Ticket.Resolution,
			Score:      m.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeExecutionError(w http.ResponseWriter, exec *ask.Execution) {
	err := exec.Err
	kind := domain.Kind(err)
	resp := errorResponse{
		Error:     ask.UserMessage(err),
		Kind:      string(kind),
		RequestID: exec.RequestID,
	}
	if kind == domain.KindInvalidInput {
		var stageErr *ask.StageError
		if errors.As(err, &stageErr) {
			resp.Detail = stageErr.Err.Error()
		} else {
			resp.Detail = err.Error()
		}
	}

	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("質問応答に失敗しました", "requestID", exec.RequestID, "kind", kind, "error", err)
	}
	writeError(w, status, resp)
}

// statusForKind はエラー種別を HTTP ステータスに変換する
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindEmbeddingUnavailable, domain.KindIndexUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindGenerationTimeout:
		return http.StatusGatewayTimeout
	case domain.KindGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.logger.Warn("ヘルスチェックに失敗しました", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		kind := domain.Kind(err)
		writeError(w, statusForKind(kind), errorResponse{Error: ask.UserMessage(err), Kind: string(kind)})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, resp errorResponse) {
	writeJSON(w, status, resp)
}
