package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/ask"
	"github.com/jinford/ticket-rag/internal/core/domain"
	"github.com/jinford/ticket-rag/internal/core/search"
)

type mockAsker struct {
	runFn      func(ctx context.Context, params ask.AskParams) *ask.Execution
	lastParams ask.AskParams
}

func (m *mockAsker) Run(ctx context.Context, params ask.AskParams) *ask.Execution {
	m.lastParams = params
	return m.runFn(ctx, params)
}

type mockStats struct {
	stats *search.CollectionStats
	err   error
}

func (m *mockStats) Stats(ctx context.Context) (*search.CollectionStats, error) {
	return m.stats, m.err
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

func newTestServer(asker Asker, stats StatsProvider, pinger Pinger) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(DefaultConfig(), asker, stats, pinger, WithServerLogger(logger))
}

func completed(answer *domain.Answer) func(ctx context.Context, params ask.AskParams) *ask.Execution {
	return func(ctx context.Context, params ask.AskParams) *ask.Execution {
		return &ask.Execution{RequestID: answer.RequestID, State: ask.StateCompleted, Answer: answer}
	}
}

func failed(stage ask.State, err error) func(ctx context.Context, params ask.AskParams) *ask.Execution {
	return func(ctx context.Context, params ask.AskParams) *ask.Execution {
		return &ask.Execution{
			RequestID: "req-1",
			State:     ask.StateFailed,
			Err:       &ask.StageError{Stage: stage, Err: err},
		}
	}
}

func postAnswer(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/answer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleAnswer_Success(t *testing.T) {
	asker := &mockAsker{runFn: completed(&domain.Answer{
		RequestID: "req-42",
		Text:      "Renew the SSL certificate.",
		Matches: []domain.Match{
			{Ticket: domain.Ticket{ID: "t1", Subject: "SSL expired", Body: "cert error", Resolution: "renewed"}, Score: 0.91},
		},
		ProcessingTime: 1500 * time.Millisecond,
	})}
	s := newTestServer(asker, &mockStats{}, &mockPinger{})

	rec := postAnswer(t, s, `{"question":"My SSL certificate expired","top_k":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp AnswerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, "Renew the SSL certificate.", resp.Answer)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "t1", resp.Matches[0].ID)
	assert.InDelta(t, 0.91, resp.Matches[0].Score, 1e-9)
	assert.InDelta(t, 1.5, resp.ProcessingTime, 1e-9)
	assert.Empty(t, resp.Notice)

	assert.Equal(t, "My SSL certificate expired", asker.lastParams.Question)
	assert.Equal(t, 5, asker.lastParams.TopK.MustGet())
	assert.True(t, asker.lastParams.ContextLimit.IsAbsent())
}

func TestHandleAnswer_NoMatchesReturnsNotice(t *testing.T) {
	asker := &mockAsker{runFn: completed(&domain.Answer{
		RequestID: "req-1",
		Text:      "Please contact support.",
		Notice:    ask.NoticeNoMatches,
	})}
	s := newTestServer(asker, &mockStats{}, &mockPinger{})

	rec := postAnswer(t, s, `{"question":"anything"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AnswerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ask.NoticeNoMatches, resp.Notice)
	assert.NotNil(t, resp.Matches)
	assert.Empty(t, resp.Matches)
	assert.True(t, asker.lastParams.TopK.IsAbsent())
}

func TestHandleAnswer_Errors(t *testing.T) {
	tests := []struct {
		name       string
		stage      ask.State
		err        error
		wantStatus int
		wantKind   domain.ErrorKind
	}{
		{"invalid input", ask.StateReceived, fmt.Errorf("%w: question is required", domain.ErrInvalidInput), http.StatusBadRequest, domain.KindInvalidInput},
		{"embedding unavailable", ask.StateEmbedding, domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, domain.KindEmbeddingUnavailable},
		{"index unavailable", ask.StateRetrieving, domain.ErrIndexUnavailable, http.StatusServiceUnavailable, domain.KindIndexUnavailable},
		{"generation timeout", ask.StateGenerating, domain.ErrGenerationTimeout, http.StatusGatewayTimeout, domain.KindGenerationTimeout},
		{"generation failed", ask.StateGenerating, domain.ErrGenerationFailed, http.StatusBadGateway, domain.KindGenerationFailed},
		{"dimension mismatch", ask.StateRetrieving, domain.ErrDimensionMismatch, http.StatusInternalServerError, domain.KindDimensionMismatch},
		{"unknown", ask.StateRetrieving, errors.New("boom"), http.StatusInternalServerError, domain.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockAsker{runFn: failed(tt.stage, tt.err)}, &mockStats{}, &mockPinger{})

			rec := postAnswer(t, s, `{"question":"q"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, string(tt.wantKind), resp.Kind)
			assert.Equal(t, "req-1", resp.RequestID)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleAnswer_InvalidInputIncludesDetail(t *testing.T) {
	err := fmt.Errorf("%w: top_k must be between 1 and 20, got 50", domain.ErrInvalidInput)
	s := newTestServer(&mockAsker{runFn: failed(ask.StateReceived, err)}, &mockStats{}, &mockPinger{})

	rec := postAnswer(t, s, `{"question":"q","top_k":50}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Detail, "top_k must be between 1 and 20")
}

func TestHandleAnswer_MalformedBody(t *testing.T) {
	asker := &mockAsker{runFn: func(ctx context.Context, params ask.AskParams) *ask.Execution {
		t.Fatal("pipeline must not run for a malformed body")
		return nil
	}}
	s := newTestServer(asker, &mockStats{}, &mockPinger{})

	rec := postAnswer(t, s, `{"question":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.KindInvalidInput), resp.Kind)
}

func TestHandleAnswer_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&mockAsker{}, &mockStats{}, &mockPinger{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/answer", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"ok", nil, http.StatusOK, "ok"},
		{"index down", domain.ErrIndexUnavailable, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockAsker{}, &mockStats{}, &mockPinger{err: tt.err})

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
		})
	}
}

func TestHandleStats(t *testing.T) {
	stats := &mockStats{stats: &search.CollectionStats{
		TotalTickets:   12,
		CollectionName: "support_tickets",
		Status:         search.StatusHealthy,
	}}
	s := newTestServer(&mockAsker{}, stats, &mockPinger{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 12, body["total_tickets"])
	assert.Equal(t, "support_tickets", body["collection_name"])
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleStats_IndexUnavailable(t *testing.T) {
	stats := &mockStats{err: fmt.Errorf("failed to count tickets: %w", domain.ErrIndexUnavailable)}
	s := newTestServer(&mockAsker{}, stats, &mockPinger{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverer(t *testing.T) {
	asker := &mockAsker{runFn: func(ctx context.Context, params ask.AskParams) *ask.Execution {
		panic("unexpected")
	}}
	s := newTestServer(asker, &mockStats{}, &mockPinger{})

	rec := postAnswer(t, s, `{"question":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := NewServer(cfg, &mockAsker{}, &mockStats{}, &mockPinger{},
		WithServerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
