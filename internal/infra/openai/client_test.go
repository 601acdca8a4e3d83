package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   DefaultModel,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
}

func newTestGenerator(t *testing.T, url string, opts ...GeneratorOption) *Generator {
	t.Helper()
	opts = append([]GeneratorOption{
		WithBaseURL(url + "/"),
		WithRetryBackoff(time.Millisecond),
		WithGeneratorLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	g, err := NewGenerator("key", opts...)
	require.NoError(t, err)
	return g
}

func TestGenerator_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeCompletion(w, "  Renew the certificate.  ")
	}))
	t.Cleanup(srv.Close)

	answer, err := newTestGenerator(t, srv.URL).Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "Renew the certificate.", answer)

	assert.Equal(t, DefaultModel, body["model"])
	assert.InDelta(t, DefaultTemperature, body["temperature"], 1e-9)
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"])
}

func TestGenerator_RetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error": {"message": "overloaded"}}`)
			return
		}
		writeCompletion(w, "ok")
	}))
	t.Cleanup(srv.Close)

	answer, err := newTestGenerator(t, srv.URL).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerator_FailsAfterSingleRetry(t *testing.T) {
	var calls atomic.Int32
	srv := newErrorServer(t, http.StatusTooManyRequests, &calls)

	_, err := newTestGenerator(t, srv.URL).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerator_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := newErrorServer(t, http.StatusBadRequest, &calls)

	_, err := newTestGenerator(t, srv.URL).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerator_EmptyCompletion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeCompletion(w, "   ")
	}))
	t.Cleanup(srv.Close)

	_, err := newTestGenerator(t, srv.URL).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerator_TimeoutIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	g := newTestGenerator(t, srv.URL, WithTimeout(50*time.Millisecond))
	_, err := g.Generate(context.Background(), "p")

	assert.ErrorIs(t, err, domain.ErrGenerationTimeout)
	assert.NotErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerator_CallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestGenerator(t, srv.URL).Generate(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrGenerationTimeout)
}

func TestNewGenerator_RequiresAPIKey(t *testing.T) {
	_, err := NewGenerator("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}
