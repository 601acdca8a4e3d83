package domain

import (
	"fmt"
	"math"
	"sort"
)

// CheckDimension はベクトル次元が期待値と一致するか検証する
func CheckDimension(expected int, vector []float32) error {
	if len(vector) != expected {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, expected, len(vector))
	}
	return nil
}

// CosineSimilarity は2つのベクトルのコサイン類似度を [-1, 1] で返す。
// どちらかがゼロベクトルの場合は 0
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// 丸め誤差で範囲外にならないようにする
	return math.Max(-1, math.Min(1, sim))
}

// SortHits はスコア降順、同点は ID 昇順に並べ替える
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
