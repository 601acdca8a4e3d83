package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/jinford/ticket-rag/internal/interface/http"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	autoIndexFile := cmd.String("auto-index-file")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cont := appCtx.Container
	logger := appCtx.Logger()

	cfg := httpapi.DefaultConfig()
	cfg.Port = appCtx.Config.Server.Port
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	cfg.ShutdownTimeout = appCtx.Config.Server.ShutdownTimeout

	server := httpapi.NewServer(cfg, cont.Pipeline, cont.Retriever, cont, httpapi.WithServerLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	if autoIndexFile != "" {
		// 空のコレクションのみ起動時にインデックス化する。失敗してもサーバーは止めない
		g.Go(func() error {
			autoIndex(gctx, appCtx, autoIndexFile)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("HTTPサーバの実行に失敗: %w", err)
	}
	return nil
}

// autoIndex はコレクションが空の場合にチケットファイルをインデックス化する
func autoIndex(ctx context.Context, appCtx *AppContext, file string) {
	logger := appCtx.Logger()

	stats, err := appCtx.Container.Retriever.Stats(ctx)
	if err != nil {
		logger.Warn("コレクションの状態を取得できないため自動インデックスをスキップしました", "error", err)
		return
	}
	if stats.TotalTickets > 0 {
		logger.Info("コレクションは作成済みのため自動インデックスをスキップしました", "tickets", stats.TotalTickets)
		return
	}

	logger.Info("空のコレクションを自動インデックス化します", "file", file)
	result, err := appCtx.Container.Indexer.IndexFile(ctx, file)
	if err != nil {
		logger.Error("自動インデックスに失敗しました", "error", err)
		return
	}
	logger.Info("自動インデックスが完了しました", "indexed", result.Indexed, "skipped", len(result.Skipped))
}
