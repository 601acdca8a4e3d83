package domain

import (
	"sort"
	"time"
)

// Match は検索されたチケットと類似度スコアの組
type Match struct {
	Ticket Ticket  `json:"ticket"`
	Score  float64 `json:"score"`
}

// SortMatches はスコア降順、同点はチケットID昇順に並べ替える
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Ticket.ID < matches[j].Ticket.ID
	})
}

// Answer はパイプラインの最終結果。リクエストごとに生成され永続化されない
type Answer struct {
	RequestID string
	Text      string

	// Matches はプロンプトに含めたチケット（類似度順）
	Matches []Match

	// RetrievedCount は検索で得られた件数（コンテキスト予算で落ちたものを含む）
	RetrievedCount int

	// Notice はユーザー向けの注意書き（関連チケットなし等）。空の場合もある
	Notice string

	ProcessingTime time.Duration
}
