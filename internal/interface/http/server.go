package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jinford/ticket-rag/internal/core/ask"
	"github.com/jinford/ticket-rag/internal/core/search"
)

// Asker は質問応答パイプライン
type Asker interface {
	Run(ctx context.Context, params ask.AskParams) *ask.Execution
}

// StatsProvider はコレクションの統計情報を返す
type StatsProvider interface {
	Stats(ctx context.Context) (*search.CollectionStats, error)
}

// Pinger はインデックスの疎通確認
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server は質問応答の HTTP サーバー
type Server struct {
	httpServer      *http.Server
	router          *http.ServeMux
	asker           Asker
	stats           StatsProvider
	pinger          Pinger
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Config はサーバー設定
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// DefaultConfig はデフォルトのサーバー設定を返す
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ServerOption は Server のオプション設定
type ServerOption func(*Server)

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer は新しい Server を作成する
func NewServer(cfg Config, asker Asker, stats StatsProvider, pinger Pinger, opts ...ServerOption) *Server {
	s := &Server{
		router:          http.NewServeMux(),
		asker:           asker,
		stats:           stats,
		pinger:          pinger,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// 回答生成のタイムアウトより長くする
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes はルーティングを設定する
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /answer", s.handleAnswer)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// Handler はミドルウェアを適用したハンドラを返す
func (s *Server) Handler() http.Handler {
	return recoverer(s.logger, requestLogger(s.logger, s.router))
}

// Addr はリッスンアドレスを返す
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start はサーバーを起動し、ctx がキャンセルされるとグレースフルシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動します", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("HTTPサーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("HTTPサーバーを停止しました")
	return nil
}
