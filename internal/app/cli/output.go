package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/jinford/ticket-rag/internal/core/domain"
	"github.com/jinford/ticket-rag/internal/core/ingestion"
	"github.com/jinford/ticket-rag/internal/core/search"
)

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()
	red       = color.New(color.FgRed, color.Bold).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

// printAnswer は回答と注意書き、必要に応じて参照チケットを出力する
func printAnswer(w io.Writer, answer *domain.Answer, showSources bool) {
	fmt.Fprintln(w, boldGreen("Answer:"))
	fmt.Fprintln(w, answer.Text)

	if answer.Notice != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, yellow("Note: "+answer.Notice))
	}

	if showSources && len(answer.Matches) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, boldCyan("--- 参照チケット ---"))
		for i, m := range answer.Matches {
			fmt.Fprintf(w, "[%d] %s %s (スコア: %.4f)\n", i+1, m.Ticket.ID, m.Ticket.Subject, m.Score)
			if m.Ticket.Resolution != "" {
				fmt.Fprintf(w, "    %s %s\n", faint("解決策:"), m.Ticket.Resolution)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, faint(fmt.Sprintf("request_id=%s processing_time=%.2fs", answer.RequestID, answer.ProcessingTime.Seconds())))
}

// printIndexResult はインデックス作成結果を出力する
func printIndexResult(w io.Writer, result *ingestion.IndexResult) {
	fmt.Fprintf(w, "%s %d/%d 件のチケットをインデックス化しました（重複 %d 件, %.2fs）\n",
		boldGreen("完了:"), result.Indexed, result.Total, result.Duplicates, result.Duration.Seconds())

	if len(result.Skipped) == 0 {
		return
	}
	fmt.Fprintf(w, "%s %d 件をスキップしました\n", yellow("警告:"), len(result.Skipped))
	for _, s := range result.Skipped {
		id := s.ID
		if id == "" {
			id = "(no id)"
		}
		fmt.Fprintf(w, "  - #%d %s: %s\n", s.Index, id, s.Reason)
	}
}

// printCollectionStats はコレクションの統計情報を出力する
func printCollectionStats(w io.Writer, stats *search.CollectionStats) {
	status := boldGreen(string(stats.Status))
	if stats.Status != search.StatusHealthy {
		status = yellow(string(stats.Status))
	}
	fmt.Fprintf(w, "%s %s\n", boldCyan("コレクション:"), stats.CollectionName)
	fmt.Fprintf(w, "  チケット数: %d\n", stats.TotalTickets)
	fmt.Fprintf(w, "  状態: %s\n", status)
}

// printTicketStats はチケットファイルの内訳を出力する
func printTicketStats(w io.Writer, stats ingestion.TicketStats, sample []domain.Ticket) {
	fmt.Fprintf(w, "%s %d 件\n", boldCyan("チケットファイル:"), stats.Total)

	fmt.Fprintln(w, "  ステータス別:")
	for _, e := range ingestion.Sorted(stats.ByStatus) {
		fmt.Fprintf(w, "    %-12s %d\n", e.Label, e.Count)
	}
	fmt.Fprintln(w, "  優先度別:")
	for _, e := range ingestion.Sorted(stats.ByPriority) {
		fmt.Fprintf(w, "    %-12s %d\n", e.Label, e.Count)
	}

	if len(sample) == 0 {
		return
	}
	fmt.Fprintln(w, "  サンプル:")
	for _, t := range sample {
		fmt.Fprintf(w, "    %s %s\n", t.ID, truncate(t.Subject, 60))
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
