package ingestion

import (
	"sort"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// unknownLabel はステータスや優先度が未設定のチケットの集計キー
const unknownLabel = "unknown"

// TicketStats はチケットファイルの集計結果
type TicketStats struct {
	Total      int
	ByStatus   map[string]int
	ByPriority map[string]int
}

// CountEntry は集計値の1行
type CountEntry struct {
	Label string
	Count int
}

// ComputeStats はステータス別・優先度別の件数を集計する
func ComputeStats(tickets []domain.Ticket) TicketStats {
	stats := TicketStats{
		Total:      len(tickets),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}
	for _, t := range tickets {
		stats.ByStatus[labelOrUnknown(t.Status)]++
		stats.ByPriority[labelOrUnknown(t.Priority)]++
	}
	return stats
}

// Sorted は件数の降順（同数はラベルの昇順）に並べた集計を返す
func Sorted(counts map[string]int) []CountEntry {
	entries := make([]CountEntry, 0, len(counts))
	for label, count := range counts {
		entries = append(entries, CountEntry{Label: label, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Label < entries[j].Label
	})
	return entries
}

// Sample は先頭から最大 n 件のチケットを返す
func Sample(tickets []domain.Ticket, n int) []domain.Ticket {
	if n <= 0 {
		return nil
	}
	if n > len(tickets) {
		n = len(tickets)
	}
	return tickets[:n]
}

func labelOrUnknown(s string) string {
	if s == "" {
		return unknownLabel
	}
	return s
}
