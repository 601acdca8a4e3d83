package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
	"github.com/jinford/ticket-rag/internal/infra/filewatch"
)

// IndexAction はチケットファイルをインデックス化するコマンドのアクション
func IndexAction(ctx context.Context, cmd *cli.Command) error {
	file := cmd.String("file")
	watch := cmd.Bool("watch")
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	batchSize := appCtx.Config.Pipeline.IndexBatchSize
	if cmd.IsSet("batch-size") {
		batchSize = cmd.Int("batch-size")
		if batchSize < ingestion.MinBatchSize {
			return fmt.Errorf("--batch-size は %d 以上を指定してください", ingestion.MinBatchSize)
		}
	}
	indexer := appCtx.Container.NewIndexer(batchSize)
	logger := appCtx.Logger()

	logger.Info("チケットのインデックス処理を開始", "file", file, "batchSize", batchSize, "watch", watch)

	runOnce := func(ctx context.Context) error {
		result, err := indexer.IndexFile(ctx, file)
		if result != nil {
			printIndexResult(stdout(cmd), result)
		}
		if err != nil {
			logger.Error("インデックス処理に失敗しました", "error", err)
			return err
		}
		return nil
	}

	if err := runOnce(ctx); err != nil && !watch {
		return err
	}
	if !watch {
		return nil
	}

	watcher, err := filewatch.New(file, filewatch.WithLogger(logger))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout(cmd), "%s %s\n", boldCyan("監視中:"), file)

	// 監視中の失敗はログに残し、次の変更で再試行する
	return watcher.Run(ctx, runOnce)
}
