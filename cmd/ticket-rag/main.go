package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	commands "github.com/jinford/ticket-rag/internal/app/cli"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "ticket-rag",
		Usage: "過去のサポートチケットを根拠に回答を生成する RAG システム",
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "チケットファイルをインデックス化",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "file",
						Usage:    "チケットのJSONファイルパス",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "1回の Embedding API 呼び出しに渡すチケット数（省略時は環境変数またはデフォルトの32）",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "ファイルの変更を監視して再インデックス化",
					},
				},
				Action: commands.IndexAction,
			},
			{
				Name:      "ask",
				Usage:     "質問に回答",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索するチケット数（1〜20、省略時は3）",
					},
					&cli.IntFlag{
						Name:  "context-limit",
						Usage: "プロンプトに含めるチケット数の上限",
					},
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照したチケットを表示",
					},
				},
				Action: commands.AskAction,
			},
			{
				Name:  "stats",
				Usage: "コレクションの統計情報を表示",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "file",
						Usage: "ステータス・優先度別の内訳を表示するチケットファイル",
					},
				},
				Action: commands.StatsAction,
			},
			{
				Name:  "ticket",
				Usage: "チケット管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "delete",
						Usage: "チケットをインデックスから削除",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "チケットID",
								Required: true,
							},
						},
						Action: commands.TicketDeleteAction,
					},
				},
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は環境変数またはデフォルトの8000）",
								Value: 8000,
							},
							&cli.StringFlag{
								Name:  "auto-index-file",
								Usage: "コレクションが空の場合に起動時にインデックス化するチケットファイル",
							},
						},
						Action: commands.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
