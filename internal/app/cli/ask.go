package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/ticket-rag/internal/core/ask"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	// フラグの取得
	showSources := cmd.Bool("show-sources")
	envFile := cmd.String("env")

	// 質問文の取得
	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	params := ask.AskParams{Question: question}
	if cmd.IsSet("top-k") {
		params.TopK = mo.Some(cmd.Int("top-k"))
	}
	if cmd.IsSet("context-limit") {
		params.ContextLimit = mo.Some(cmd.Int("context-limit"))
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	logger := appCtx.Logger()
	logger.Info("質問応答を開始", "question", question, "showSources", showSources)

	exec := appCtx.Container.Pipeline.Run(ctx, params)
	if exec.State != ask.StateCompleted {
		fmt.Fprintln(stderr(cmd), red(ask.UserMessage(exec.Err)))
		logger.Error("質問応答に失敗しました", "requestID", exec.RequestID, "error", exec.Err)
		return fmt.Errorf("質問応答に失敗: %w", exec.Err)
	}

	// 結果出力
	printAnswer(stdout(cmd), exec.Answer, showSources)

	logger.Info("質問応答が完了しました",
		"requestID", exec.RequestID,
		"matches", len(exec.Answer.Matches),
		"duration", exec.Duration,
	)
	return nil
}
