package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// TicketDeleteAction はチケットをインデックスから削除するコマンドのアクション
func TicketDeleteAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Indexer.DeleteTicket(ctx, id); err != nil {
		return err
	}

	appCtx.Logger().Info("チケットを削除しました", "ticketID", id)
	fmt.Fprintf(stdout(cmd), "%s %s\n", boldGreen("削除しました:"), id)
	return nil
}
