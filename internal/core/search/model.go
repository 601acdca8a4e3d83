package search

import "github.com/samber/mo"

const (
	// DefaultTopK は top_k が指定されない場合の取得件数
	DefaultTopK = 3
	// MaxTopK は top_k の上限
	MaxTopK = 20
)

// SearchParams は検索パラメータを表す
type SearchParams struct {
	Question string
	TopK     mo.Option[int]
}

// CollectionStatus はコレクションの状態
type CollectionStatus string

const (
	// StatusHealthy はチケットが1件以上格納されている状態
	StatusHealthy CollectionStatus = "healthy"
	// StatusEmpty はチケットが未登録の状態
	StatusEmpty CollectionStatus = "empty"
)

// CollectionStats はインデックスの統計情報
type CollectionStats struct {
	TotalTickets   int              `json:"total_tickets"`
	CollectionName string           `json:"collection_name"`
	Status         CollectionStatus `json:"status"`
}
