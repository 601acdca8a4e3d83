package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
)

// statsSampleSize は stats --file で表示するサンプル件数
const statsSampleSize = 3

// StatsAction はコレクションとチケットファイルの統計を表示するコマンドのアクション
func StatsAction(ctx context.Context, cmd *cli.Command) error {
	file := cmd.String("file")
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Retriever.Stats(ctx)
	if err != nil {
		return fmt.Errorf("統計情報の取得に失敗: %w", err)
	}
	printCollectionStats(stdout(cmd), stats)

	if file == "" {
		return nil
	}

	loaded, err := ingestion.LoadFile(file)
	if err != nil {
		return err
	}
	for _, le := range loaded.Errors {
		appCtx.Logger().Warn("読み込めないレコード", "index", le.Index, "reason", le.Reason)
	}

	fmt.Fprintln(stdout(cmd))
	printTicketStats(stdout(cmd), ingestion.ComputeStats(loaded.Tickets), ingestion.Sample(loaded.Tickets, statsSampleSize))
	return nil
}
